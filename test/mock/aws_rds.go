// Copyright 2022 Block, Inc.

package mock

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/rds"

	"github.com/dbpoll/dbpoll"
	dbpollAWS "github.com/dbpoll/dbpoll/aws"
)

// RDSClient returns the pages in order, one per call to DescribeDBInstances.
// A call without a marker starts a new listing from the first page.
type RDSClient struct {
	Pages []rds.DescribeDBInstancesOutput
	Error error
	calls *int
}

func NewRDSClient(pages ...rds.DescribeDBInstancesOutput) RDSClient {
	return RDSClient{Pages: pages, calls: new(int)}
}

func (r RDSClient) DescribeDBInstances(ctx context.Context, in *rds.DescribeDBInstancesInput, _ ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
	if r.Error != nil {
		return nil, r.Error
	}
	if r.calls != nil && (in == nil || in.Marker == nil) {
		*r.calls = 0
	}
	if r.calls == nil || *r.calls >= len(r.Pages) {
		return &rds.DescribeDBInstancesOutput{}, nil
	}
	out := r.Pages[*r.calls]
	*r.calls++
	return &out, nil
}

type RDSClientFactory struct {
	MakeFunc func(dbpoll.AWS) (dbpollAWS.RDSClient, error)
}

func (f RDSClientFactory) Make(ba dbpoll.AWS) (dbpollAWS.RDSClient, error) {
	if f.MakeFunc != nil {
		return f.MakeFunc(ba)
	}
	return NewRDSClient(), nil
}
