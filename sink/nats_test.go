// Copyright 2024 Block, Inc.

package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbpoll/dbpoll"
)

type natsConn struct {
	subject string
	data    []byte
	err     error
	flushed bool
	drained bool
}

func (c *natsConn) Publish(subject string, data []byte) error {
	c.subject = subject
	c.data = data
	return c.err
}

func (c *natsConn) FlushWithContext(ctx context.Context) error {
	c.flushed = true
	return nil
}

func (c *natsConn) Drain() error {
	c.drained = true
	return nil
}

func TestNATSClose(t *testing.T) {
	conn := &natsConn{}
	s := NewNATSWithConn("db1", DEFAULT_NATS_SUBJECT, nil, conn)

	// Retry passes Close through to the sink it wraps
	var rb io.Closer = NewRetry(RetryArgs{MonitorId: "db1", Sink: s})
	require.NoError(t, rb.Close())
	assert.True(t, conn.drained)
}

func TestNATSSend(t *testing.T) {
	conn := &natsConn{}
	s := NewNATSWithConn("db1", "db2.metrics", map[string]string{"env": "test"}, conn)

	begin := time.UnixMilli(1700000000000)
	m := &dbpoll.Metrics{
		MonitorId: "db1",
		Begin:     begin,
		End:       begin.Add(250 * time.Millisecond),
		Values: []dbpoll.Metric{
			{Key: "overview/total_app_commits", Unit: "Operations/Second", Value: 5},
			{Key: "tablespace/userspace1/tbsp_used_pages", Value: 128},
		},
	}
	require.NoError(t, s.Send(context.Background(), m))
	assert.Equal(t, "db2.metrics", conn.subject)
	assert.True(t, conn.flushed)

	var got natsMessage
	require.NoError(t, json.Unmarshal(conn.data, &got))
	expect := natsMessage{
		MonitorId: "db1",
		Ts:        1700000000000,
		Duration:  250,
		Tags:      map[string]string{"env": "test"},
		Metrics: []natsMetric{
			{Key: "overview/total_app_commits", Unit: "Operations/Second", Value: 5},
			{Key: "tablespace/userspace1/tbsp_used_pages", Value: 128},
		},
	}
	assert.Equal(t, expect, got)
}

func TestNATSSendError(t *testing.T) {
	conn := &natsConn{err: fmt.Errorf("nats: connection closed")}
	s := NewNATSWithConn("db1", DEFAULT_NATS_SUBJECT, nil, conn)
	err := s.Send(context.Background(), &dbpoll.Metrics{MonitorId: "db1"})
	assert.EqualError(t, err, "nats: connection closed")
	assert.False(t, conn.flushed)
}

func TestNATSOptions(t *testing.T) {
	_, err := NewNATS("db1", map[string]string{"subject": ""}, nil)
	assert.Error(t, err)
	_, err = NewNATS("db1", map[string]string{"bogus": "1"}, nil)
	assert.EqualError(t, err, "invalid option: bogus")
}
