// Copyright 2022 Block, Inc.

// Package prom provides Prometheus exposition of collected metrics.
package prom

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/dbpoll/dbpoll"
)

const DEFAULT_NAMESPACE = "db2"

// Collector is an unchecked prometheus.Collector that reports the last
// metrics of one or more instances. Every metric is a gauge: counters are
// already per-second rates. The instance label is the monitor ID.
type Collector struct {
	namespace string
	metrics   func() []*dbpoll.Metrics
}

var _ prometheus.Collector = &Collector{}

func NewCollector(namespace string, metrics func() []*dbpoll.Metrics) *Collector {
	return &Collector{
		namespace: dbpoll.SetOrDefault(namespace, DEFAULT_NAMESPACE),
		metrics:   metrics,
	}
}

var invalidChars = regexp.MustCompile("[^a-zA-Z0-9_]")

// Name returns the Prometheus metric name for a metric key: "/" and other
// invalid characters become "_", and the name is lowercased.
func Name(namespace, key string) string {
	return prometheus.BuildFQName(namespace, "", strings.ToLower(invalidChars.ReplaceAllString(key, "_")))
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	// Left empty intentionally to make the collector unchecked.
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.metrics() {
		if m == nil {
			continue
		}
		for _, v := range m.Values {
			help := "dbpoll metric " + v.Key
			if v.Unit != "" {
				help += " (" + v.Unit + ")"
			}
			desc := prometheus.NewDesc(Name(c.namespace, v.Key), help, []string{"instance"}, nil)
			pm, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v.Value, m.MonitorId)
			if err != nil {
				dbpoll.Debug("%s: %s: %s", m.MonitorId, v.Key, err)
				continue
			}
			ch <- pm
		}
	}
}

// Gatherer returns a registry with only the collector registered.
func (c *Collector) Gatherer() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return reg, nil
}

// Text returns the metrics in Prometheus text exposition format.
func (c *Collector) Text() (string, error) {
	reg, err := c.Gatherer()
	if err != nil {
		return "", err
	}
	mfs, err := reg.Gather()
	if err != nil {
		return "", fmt.Errorf("cannot gather metrics: %s", err)
	}
	var buf bytes.Buffer
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
