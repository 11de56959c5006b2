// Copyright 2022 Block, Inc.

package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"

	"github.com/dbpoll/dbpoll"
)

// ConfigFactory is the default dbpoll.AWSConfigFactory. The first region
// auto-detected is reused when a later config has no region.
type ConfigFactory struct {
	region string
}

// Make makes an AWS config for the region. If Region is "auto", the region
// is detected from EC2 IMDS.
func (f *ConfigFactory) Make(ba dbpoll.AWS) (aws.Config, error) {
	if ba.Region == "auto" {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		var err error
		ba.Region, err = Region(ctx)
		if err != nil {
			dbpoll.Debug("cannot auto-detect region: %s", err)
			return aws.Config{}, fmt.Errorf("cannot auto-detect AWS region (EC2 IMDS query failed)")
		}
		if f.region == "" {
			f.region = ba.Region
		}
	}
	if ba.Region == "" && f.region != "" {
		ba.Region = f.region
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return config.LoadDefaultConfig(ctx, config.WithRegion(ba.Region))
}

// Region returns the region of the EC2 instance from IMDS v2.
func Region(ctx context.Context) (string, error) {
	dbpoll.Debug("auto-detect AWS region")
	client := imds.New(imds.Options{})
	ec2, err := client.GetInstanceIdentityDocument(ctx, &imds.GetInstanceIdentityDocumentInput{})
	if err != nil {
		return "", err
	}
	return ec2.Region, nil
}
