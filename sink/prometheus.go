// Copyright 2022 Block, Inc.

package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/dbpoll/dbpoll"
	"github.com/dbpoll/dbpoll/prom"
	"github.com/dbpoll/dbpoll/status"
)

const DEFAULT_PUSHGATEWAY_JOB = "dbpoll"

// Pushgateway pushes metrics to a Prometheus Pushgateway. Each push replaces
// the metrics in the group job/<job>/monitor/<monitorId>.
type Pushgateway struct {
	monitorId string
	pusher    *push.Pusher
	*sync.Mutex
	last *dbpoll.Metrics
}

func NewPushgateway(monitorId string, opts, tags map[string]string) (*Pushgateway, error) {
	url := ""
	job := DEFAULT_PUSHGATEWAY_JOB
	namespace := prom.DEFAULT_NAMESPACE
	for k, v := range opts {
		switch k {
		case "url":
			url = v
		case "job":
			job = v
		case "namespace":
			namespace = v
		default:
			return nil, fmt.Errorf("invalid option: %s", k)
		}
	}
	if url == "" {
		return nil, fmt.Errorf("prometheus sink requires url (Pushgateway address)")
	}

	s := &Pushgateway{
		monitorId: monitorId,
		Mutex:     &sync.Mutex{},
	}
	s.pusher = push.New(url, job).
		Collector(prom.NewCollector(namespace, s.metrics)).
		Grouping("monitor", monitorId)
	for k, v := range tags {
		s.pusher.Grouping(k, v)
	}
	return s, nil
}

func (s *Pushgateway) metrics() []*dbpoll.Metrics {
	s.Lock()
	defer s.Unlock()
	return []*dbpoll.Metrics{s.last}
}

func (s *Pushgateway) Send(ctx context.Context, m *dbpoll.Metrics) error {
	s.Lock()
	s.last = m
	s.Unlock()
	if err := s.pusher.PushContext(ctx); err != nil {
		return err
	}
	status.Monitor(s.monitorId, s.Name(), "last pushed %d metrics at %s", len(m.Values), dbpoll.FormatTime(time.Now()))
	return nil
}

func (s *Pushgateway) Name() string {
	return "prometheus"
}
