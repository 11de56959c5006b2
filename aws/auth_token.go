// Copyright 2024 Block, Inc.

package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/rds/auth"

	"github.com/dbpoll/dbpoll"
)

// AuthToken makes IAM auth tokens for RDS MySQL and PostgreSQL. Tokens are
// valid for 15 minutes, so Password makes a new one on every call.
type AuthToken struct {
	user   string
	addr   string
	region string
	creds  aws.CredentialsProvider
}

func NewAuthToken(user, addr string, cfg aws.Config) AuthToken {
	return AuthToken{
		user:   user,
		addr:   addr,
		region: cfg.Region,
		creds:  cfg.Credentials,
	}
}

func (a AuthToken) Password(ctx context.Context) (string, error) {
	dbpoll.Debug("new auth token for %s@%s", a.user, a.addr)
	return auth.BuildAuthToken(ctx, a.addr, a.region, a.user, a.creds)
}
