// Copyright 2022 Block, Inc.

package sink

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/dbpoll/dbpoll"
	"github.com/dbpoll/dbpoll/status"
)

const (
	DEFAULT_CLOUDWATCH_NAMESPACE = "DB2"
	CLOUDWATCH_BATCH_SIZE        = 20
)

// CloudWatchClient is the subset of the CloudWatch API used by the sink.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ CloudWatchClient = &cloudwatch.Client{}

// CloudWatch sends metrics to AWS CloudWatch.
type CloudWatch struct {
	monitorId  string
	namespace  string
	dimensions []types.Dimension
	client     CloudWatchClient
}

func NewCloudWatch(monitorId string, opts, tags map[string]string, awsConfig dbpoll.AWSConfigFactory) (*CloudWatch, error) {
	ns := DEFAULT_CLOUDWATCH_NAMESPACE
	cfg := dbpoll.AWS{}
	for k, v := range opts {
		switch k {
		case "namespace":
			ns = v
		case "region":
			cfg.Region = v
		default:
			return nil, fmt.Errorf("invalid option: %s", k)
		}
	}

	awsCfg, err := awsConfig.Make(cfg)
	if err != nil {
		return nil, fmt.Errorf("cloudwatch sink: %w", err)
	}

	return NewCloudWatchWithClient(monitorId, ns, tags, cloudwatch.NewFromConfig(awsCfg)), nil
}

// NewCloudWatchWithClient makes a CloudWatch sink using the given client.
func NewCloudWatchWithClient(monitorId, namespace string, tags map[string]string, client CloudWatchClient) *CloudWatch {
	dim := []types.Dimension{
		{Name: aws.String("instance"), Value: aws.String(monitorId)},
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		dim = append(dim, types.Dimension{Name: aws.String(k), Value: aws.String(tags[k])})
	}
	return &CloudWatch{
		monitorId:  monitorId,
		namespace:  namespace,
		dimensions: dim,
		client:     client,
	}
}

func (s *CloudWatch) Send(ctx context.Context, m *dbpoll.Metrics) error {
	status.Monitor(s.monitorId, s.Name(), "sending metrics")

	data := make([]types.MetricDatum, len(m.Values))
	for i := range m.Values {
		data[i] = types.MetricDatum{
			MetricName: aws.String(m.Values[i].Key),
			Value:      aws.Float64(m.Values[i].Value),
			Unit:       CloudWatchUnit(m.Values[i].Unit),
			Timestamp:  aws.Time(m.Begin),
			Dimensions: s.dimensions,
		}
	}

	n := 0
	for len(data) > 0 {
		batch := data
		if len(batch) > CLOUDWATCH_BATCH_SIZE {
			batch = data[:CLOUDWATCH_BATCH_SIZE]
		}
		data = data[len(batch):]
		_, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(s.namespace),
			MetricData: batch,
		})
		if err != nil {
			return err
		}
		n += len(batch)
	}

	status.Monitor(s.monitorId, s.Name(), "last sent %d metrics at %s", n, dbpoll.FormatTime(time.Now()))
	return nil
}

func (s *CloudWatch) Name() string {
	return "cloudwatch"
}

// CloudWatchUnit maps a metric unit to a CloudWatch standard unit.
func CloudWatchUnit(unit string) types.StandardUnit {
	switch unit {
	case "%":
		return types.StandardUnitPercent
	case "Microseconds":
		return types.StandardUnitMicroseconds
	case "Milliseconds":
		return types.StandardUnitMilliseconds
	case "Operations/Second":
		return types.StandardUnitCountSecond
	case "Count", "Statements", "Activities", "Requests", "Times":
		return types.StandardUnitCount
	default:
		return types.StandardUnitNone
	}
}
