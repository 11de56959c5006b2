// Copyright 2022 Block, Inc.

package sink

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"

	"github.com/dbpoll/dbpoll"
	"github.com/dbpoll/dbpoll/status"
)

// DogStatsD sends metrics to a Datadog agent as gauges.
type DogStatsD struct {
	monitorId string
	tags      []string // monitor tags (dimensions)
	prefix    string   // metric-prefix
	addr      string
	client    statsd.ClientInterface
}

func NewDogStatsD(monitorId string, opts, tags map[string]string) (*DogStatsD, error) {
	d := &DogStatsD{
		monitorId: monitorId,
		tags:      tagList(tags),
	}

	host := "localhost"
	port := "8125"
	for k, v := range opts {
		switch k {
		case "metric-prefix":
			if v == "" {
				return nil, fmt.Errorf("dogstatsd sink metric-prefix is empty string; value required when option is specified")
			}
			d.prefix = v
		case "host":
			if v == "" {
				return nil, fmt.Errorf("dogstatsd sink host is empty string; host is required")
			}
			host = v
		case "port":
			if v == "" {
				return nil, fmt.Errorf("dogstatsd sink port is empty string; port is required")
			}
			port = v
		default:
			return nil, fmt.Errorf("invalid option: %s", k)
		}
	}
	d.addr = net.JoinHostPort(host, port)

	client, err := statsd.New(d.addr)
	if err != nil {
		return nil, err
	}
	d.client = client

	return d, nil
}

func (d *DogStatsD) Send(ctx context.Context, m *dbpoll.Metrics) error {
	status.Monitor(d.monitorId, d.Name(), "sending metrics")
	n := 0
	defer func() {
		status.Monitor(d.monitorId, d.Name(), "last sent %d metrics at %s", n, dbpoll.FormatTime(time.Now()))
	}()

	var lastErr error
	for i := range m.Values {
		err := d.client.Gauge(MetricName(d.prefix, m.Values[i].Key), m.Values[i].Value, d.tags, 1)
		if err != nil {
			dbpoll.Debug("%s: error sending %s to %s: %s", d.monitorId, m.Values[i].Key, d.addr, err)
			lastErr = err
			continue
		}
		n++
	}
	return lastErr
}

func (d *DogStatsD) Name() string {
	return "dogstatsd"
}

// Close flushes buffered metrics and closes the client.
func (d *DogStatsD) Close() error {
	return d.client.Close()
}
