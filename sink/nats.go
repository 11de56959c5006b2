// Copyright 2024 Block, Inc.

package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dbpoll/dbpoll"
	"github.com/dbpoll/dbpoll/status"
)

const DEFAULT_NATS_SUBJECT = "dbpoll.metrics"

// NATSConn is the subset of *nats.Conn used by the sink.
type NATSConn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

var _ NATSConn = &nats.Conn{}

// NATS publishes each poll cycle as one JSON message.
type NATS struct {
	monitorId string
	subject   string
	tags      map[string]string
	conn      NATSConn
}

type natsMessage struct {
	MonitorId string            `json:"monitor_id"`
	Ts        int64             `json:"ts"`
	Duration  int64             `json:"duration_ms"`
	Tags      map[string]string `json:"tags,omitempty"`
	Metrics   []natsMetric      `json:"metrics"`
}

type natsMetric struct {
	Key   string  `json:"key"`
	Unit  string  `json:"unit,omitempty"`
	Value float64 `json:"value"`
}

func NewNATS(monitorId string, opts, tags map[string]string) (*NATS, error) {
	url := nats.DefaultURL
	subject := DEFAULT_NATS_SUBJECT
	for k, v := range opts {
		switch k {
		case "url":
			url = v
		case "subject":
			if v == "" {
				return nil, fmt.Errorf("nats sink subject is empty string; value required when option is specified")
			}
			subject = v
		default:
			return nil, fmt.Errorf("invalid option: %s", k)
		}
	}

	conn, err := nats.Connect(url,
		nats.Name("dbpoll-"+monitorId),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats sink: %w", err)
	}
	return NewNATSWithConn(monitorId, subject, tags, conn), nil
}

// NewNATSWithConn makes a NATS sink using the given connection.
func NewNATSWithConn(monitorId, subject string, tags map[string]string, conn NATSConn) *NATS {
	return &NATS{
		monitorId: monitorId,
		subject:   subject,
		tags:      tags,
		conn:      conn,
	}
}

func (s *NATS) Send(ctx context.Context, m *dbpoll.Metrics) error {
	msg := natsMessage{
		MonitorId: m.MonitorId,
		Ts:        m.Begin.UnixMilli(),
		Duration:  m.End.Sub(m.Begin).Milliseconds(),
		Tags:      s.tags,
		Metrics:   make([]natsMetric, len(m.Values)),
	}
	for i, v := range m.Values {
		msg.Metrics[i] = natsMetric{Key: v.Key, Unit: v.Unit, Value: v.Value}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		return err
	}
	if err := s.conn.FlushWithContext(ctx); err != nil {
		return err
	}
	status.Monitor(s.monitorId, s.Name(), "last sent %d metrics at %s", len(m.Values), dbpoll.FormatTime(time.Now()))
	return nil
}

func (s *NATS) Name() string {
	return "nats"
}

// Close drains the connection, which flushes pending messages and then closes it.
func (s *NATS) Close() error {
	return s.conn.Drain()
}
