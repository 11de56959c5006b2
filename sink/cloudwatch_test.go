// Copyright 2022 Block, Inc.

package sink

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbpoll/dbpoll"
)

type cwClient struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (c *cwClient) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	c.inputs = append(c.inputs, params)
	return &cloudwatch.PutMetricDataOutput{}, c.err
}

func TestCloudWatchSend(t *testing.T) {
	client := &cwClient{}
	s := NewCloudWatchWithClient("db1", "DB2", map[string]string{"env": "prod"}, client)

	begin := time.Unix(1700000000, 0)
	m := &dbpoll.Metrics{
		MonitorId: "db1",
		Begin:     begin,
		Values:    make([]dbpoll.Metric, 45),
	}
	for i := range m.Values {
		m.Values[i] = dbpoll.Metric{Key: fmt.Sprintf("overview/m%02d", i), Value: float64(i)}
	}
	m.Values[0].Unit = "%"
	m.Values[1].Unit = "Operations/Second"

	require.NoError(t, s.Send(context.Background(), m))
	require.Len(t, client.inputs, 3)
	assert.Len(t, client.inputs[0].MetricData, 20)
	assert.Len(t, client.inputs[1].MetricData, 20)
	assert.Len(t, client.inputs[2].MetricData, 5)
	assert.Equal(t, "DB2", aws.ToString(client.inputs[0].Namespace))

	d := client.inputs[0].MetricData[0]
	assert.Equal(t, "overview/m00", aws.ToString(d.MetricName))
	assert.Equal(t, types.StandardUnitPercent, d.Unit)
	assert.Equal(t, begin, aws.ToTime(d.Timestamp))
	require.Len(t, d.Dimensions, 2)
	assert.Equal(t, "instance", aws.ToString(d.Dimensions[0].Name))
	assert.Equal(t, "db1", aws.ToString(d.Dimensions[0].Value))
	assert.Equal(t, "env", aws.ToString(d.Dimensions[1].Name))
	assert.Equal(t, types.StandardUnitCountSecond, client.inputs[0].MetricData[1].Unit)
	assert.Equal(t, 44.0, aws.ToFloat64(client.inputs[2].MetricData[4].Value))
}

func TestCloudWatchSendError(t *testing.T) {
	client := &cwClient{err: fmt.Errorf("throttled")}
	s := NewCloudWatchWithClient("db1", "DB2", nil, client)
	m := &dbpoll.Metrics{Values: []dbpoll.Metric{{Key: "overview/a", Value: 1}}}
	assert.EqualError(t, s.Send(context.Background(), m), "throttled")
}

func TestCloudWatchUnit(t *testing.T) {
	assert.Equal(t, types.StandardUnitMicroseconds, CloudWatchUnit("Microseconds"))
	assert.Equal(t, types.StandardUnitCount, CloudWatchUnit("Statements"))
	assert.Equal(t, types.StandardUnitNone, CloudWatchUnit(""))
}
