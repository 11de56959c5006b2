// Copyright 2022 Block, Inc.

package aws

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/go-sql-driver/mysql"

	"github.com/dbpoll/dbpoll"
)

type RDSClient interface {
	// https://pkg.go.dev/github.com/aws/aws-sdk-go-v2/service/rds#DescribeDBInstancesAPIClient
	rds.DescribeDBInstancesAPIClient
}

type RDSClientFactory interface {
	Make(dbpoll.AWS) (RDSClient, error)
}

type rdsClientFactory struct {
	awsMaker dbpoll.AWSConfigFactory
}

func NewRDSClientFactory(awsMaker dbpoll.AWSConfigFactory) rdsClientFactory {
	return rdsClientFactory{
		awsMaker: awsMaker,
	}
}

func (f rdsClientFactory) Make(ba dbpoll.AWS) (RDSClient, error) {
	awsCfg, err := f.awsMaker.Make(ba)
	if err != nil {
		return nil, err
	}
	client := rds.NewFromConfig(awsCfg)
	return client, nil
}

// --------------------------------------------------------------------------

// RDSLoader loads RDS for Db2 instances in the regions configured in
// instance-loader.aws.regions.
type RDSLoader struct {
	ClientFactory RDSClientFactory
}

// Load calls DescribeDBInstances to return every available RDS for Db2
// instance. This is equivalent to "aws rds describe-db-instances". Instances
// of other engines are ignored.
func (rl RDSLoader) Load(ctx context.Context, cfg dbpoll.Config) ([]dbpoll.ConfigInstance, error) {
	loaderCfg := cfg.InstanceLoader.AWS
	if len(loaderCfg.Regions) == 0 {
		return nil, fmt.Errorf("no regions specified")
	}

	instances := []dbpoll.ConfigInstance{}

	for _, region := range loaderCfg.Regions {
		client, err := rl.ClientFactory.Make(dbpoll.AWS{Region: region})
		if err != nil {
			return nil, err
		}

		var marker *string // pagination
	PAGES:
		for {
			out, err := client.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{Marker: marker})
			if err != nil {
				return nil, err
			}

			dbpoll.Debug("%s: %d db instances", region, len(out.DBInstances))
			for _, db := range out.DBInstances {
				id := aws.ToString(db.DBInstanceIdentifier)
				if !strings.HasPrefix(aws.ToString(db.Engine), "db2") {
					dbpoll.Debug("%s: engine %s, ignored", id, aws.ToString(db.Engine))
					continue
				}
				// During provision or decommission, endpoint can be nil
				if db.Endpoint == nil || db.Endpoint.Address == nil {
					dbpoll.Debug("%s: endpoint nil (status=%s)", id, aws.ToString(db.DBInstanceStatus))
					continue
				}
				in := dbpoll.ConfigInstance{
					Name:     id,
					Host:     fmt.Sprintf("%s:%d", *db.Endpoint.Address, db.Endpoint.Port),
					Database: aws.ToString(db.DBName),
					Dialect:  "db2",
					AWS: dbpoll.ConfigAWS{
						Region: region,
					},
				}
				instances = append(instances, in)
				dbpoll.Debug("loaded %s: host=%s version=%s az=%s status=%s",
					id, in.Host, aws.ToString(db.EngineVersion), aws.ToString(db.AvailabilityZone), aws.ToString(db.DBInstanceStatus))
			}

			// Max 100 instances per page; read next page if marker is set
			if out.Marker != nil && *out.Marker != "" {
				marker = out.Marker
				continue PAGES
			}

			break PAGES // last page
		}
	}

	return instances, nil
}

var once sync.Once

// RegisterRDSCA registers the RDS CA for the mysql dialect as TLS config "rds".
// It is safe to call multiple times.
func RegisterRDSCA() {
	once.Do(func() {
		dbpoll.Debug("loading RDS CA")
		caCertPool := x509.NewCertPool()
		caCertPool.AppendCertsFromPEM(rds2019rootCA)
		tlsConfig := &tls.Config{RootCAs: caCertPool}
		mysql.RegisterTLSConfig("rds", tlsConfig)
	})
}

// rds-ca-2019-root.pem
var rds2019rootCA = []byte(`-----BEGIN CERTIFICATE-----
MIIEBjCCAu6gAwIBAgIJAMc0ZzaSUK51MA0GCSqGSIb3DQEBCwUAMIGPMQswCQYD
VQQGEwJVUzEQMA4GA1UEBwwHU2VhdHRsZTETMBEGA1UECAwKV2FzaGluZ3RvbjEi
MCAGA1UECgwZQW1hem9uIFdlYiBTZXJ2aWNlcywgSW5jLjETMBEGA1UECwwKQW1h
em9uIFJEUzEgMB4GA1UEAwwXQW1hem9uIFJEUyBSb290IDIwMTkgQ0EwHhcNMTkw
ODIyMTcwODUwWhcNMjQwODIyMTcwODUwWjCBjzELMAkGA1UEBhMCVVMxEDAOBgNV
BAcMB1NlYXR0bGUxEzARBgNVBAgMCldhc2hpbmd0b24xIjAgBgNVBAoMGUFtYXpv
biBXZWIgU2VydmljZXMsIEluYy4xEzARBgNVBAsMCkFtYXpvbiBSRFMxIDAeBgNV
BAMMF0FtYXpvbiBSRFMgUm9vdCAyMDE5IENBMIIBIjANBgkqhkiG9w0BAQEFAAOC
AQ8AMIIBCgKCAQEArXnF/E6/Qh+ku3hQTSKPMhQQlCpoWvnIthzX6MK3p5a0eXKZ
oWIjYcNNG6UwJjp4fUXl6glp53Jobn+tWNX88dNH2n8DVbppSwScVE2LpuL+94vY
0EYE/XxN7svKea8YvlrqkUBKyxLxTjh+U/KrGOaHxz9v0l6ZNlDbuaZw3qIWdD/I
6aNbGeRUVtpM6P+bWIoxVl/caQylQS6CEYUk+CpVyJSkopwJlzXT07tMoDL5WgX9
O08KVgDNz9qP/IGtAcRduRcNioH3E9v981QO1zt/Gpb2f8NqAjUUCUZzOnij6mx9
McZ+9cWX88CRzR0vQODWuZscgI08NvM69Fn2SQIDAQABo2MwYTAOBgNVHQ8BAf8E
BAMCAQYwDwYDVR0TAQH/BAUwAwEB/zAdBgNVHQ4EFgQUc19g2LzLA5j0Kxc0LjZa
pmD/vB8wHwYDVR0jBBgwFoAUc19g2LzLA5j0Kxc0LjZapmD/vB8wDQYJKoZIhvcN
AQELBQADggEBAHAG7WTmyjzPRIM85rVj+fWHsLIvqpw6DObIjMWokpliCeMINZFV
ynfgBKsf1ExwbvJNzYFXW6dihnguDG9VMPpi2up/ctQTN8tm9nDKOy08uNZoofMc
NUZxKCEkVKZv+IL4oHoeayt8egtv3ujJM6V14AstMQ6SwvwvA93EP/Ug2e4WAXHu
cbI1NAbUgVDqp+DRdfvZkgYKryjTWd/0+1fS8X1bBZVWzl7eirNVnHbSH2ZDpNuY
0SBd8dj5F6ld3t58ydZbrTHze7JJOd8ijySAp4/kiu9UfZWuTPABzDa/DSdz9Dk/
zPW4CXXvhLmE02TA9/HeCw3KEHIwicNuEfw=
-----END CERTIFICATE-----`)
