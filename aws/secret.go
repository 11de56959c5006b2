// Copyright 2024 Block, Inc.

package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsManagerClient is the part of the Secrets Manager API used by Secret.
type SecretsManagerClient interface {
	GetSecretValue(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Secret reads a database password from a JSON secret with a "password" key,
// like the secrets that RDS manages.
type Secret struct {
	name   string
	client SecretsManagerClient
}

func NewSecret(name string, cfg aws.Config) Secret {
	return Secret{
		name:   name,
		client: secretsmanager.NewFromConfig(cfg),
	}
}

func NewSecretWithClient(name string, client SecretsManagerClient) Secret {
	return Secret{
		name:   name,
		client: client,
	}
}

// Password returns the current password. It is called on every connect, so
// a rotated secret is used on the next reconnect.
func (s Secret) Password(ctx context.Context) (string, error) {
	input := &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(s.name),
		VersionStage: aws.String("AWSCURRENT"),
	}

	sv, err := s.client.GetSecretValue(ctx, input)
	if err != nil {
		return "", fmt.Errorf("Secrets Manager API error: %s", err)
	}

	if sv.SecretString == nil || *sv.SecretString == "" {
		return "", fmt.Errorf("secret %s: secret string is nil or empty", s.name)
	}

	var v map[string]interface{}
	if err := json.Unmarshal([]byte(*sv.SecretString), &v); err != nil {
		return "", fmt.Errorf("secret %s: cannot decode secret string as JSON object: %s", s.name, err)
	}
	if v == nil {
		return "", fmt.Errorf("secret %s: value is 'null' literal", s.name)
	}

	password, ok := v["password"].(string)
	if !ok {
		return "", fmt.Errorf("secret %s: no password key or value is not a string", s.name)
	}
	return password, nil
}
