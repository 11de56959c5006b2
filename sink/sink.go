// Copyright 2022 Block, Inc.

// Package sink provides the built-in sinks and the sink registry.
package sink

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dbpoll/dbpoll"
	"github.com/dbpoll/dbpoll/event"
)

const DEFAULT_SINK = "log"

// Register registers a sink factory. Built-in sinks are registered on init.
// Users can register other sinks before server.Boot.
func Register(name string, f dbpoll.SinkFactory) error {
	r.Lock()
	defer r.Unlock()
	_, ok := r.factory[name]
	if ok {
		return fmt.Errorf("%s already registered", name)
	}
	r.factory[name] = f
	event.Sendf(event.REGISTER_SINK, "%s", name)
	return nil
}

// List returns the names of registered sinks, sorted.
func List() []string {
	r.Lock()
	defer r.Unlock()
	names := []string{}
	for k := range r.factory {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Make makes a sink for the monitor.
func Make(name, monitorId string, opts, tags map[string]string) (dbpoll.Sink, error) {
	r.Lock()
	f, ok := r.factory[name]
	r.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: sink %s not registered", dbpoll.ErrConfig, name)
	}
	return f.Make(name, monitorId, opts, tags)
}

// InitFactory sets the factories used by built-in sinks. It is called once
// by server.Boot.
func InitFactory(factories dbpoll.Factories) {
	f.Lock()
	defer f.Unlock()
	f.AWSConfig = factories.AWSConfig
	f.HTTPClient = factories.HTTPClient
}

// --------------------------------------------------------------------------

var builtin = []string{"cloudwatch", "datadog", "dogstatsd", "log", "nats", "prometheus", "signalfx"}

func init() {
	for _, name := range builtin {
		Register(name, f)
	}
}

type repo struct {
	*sync.Mutex
	factory map[string]dbpoll.SinkFactory
}

var r = &repo{
	Mutex:   &sync.Mutex{},
	factory: map[string]dbpoll.SinkFactory{},
}

type factory struct {
	AWSConfig  dbpoll.AWSConfigFactory
	HTTPClient dbpoll.HTTPClientFactory
	*sync.Mutex
}

var f = &factory{
	Mutex: &sync.Mutex{},
}

func (f *factory) Make(name, monitorId string, opts, tags map[string]string) (dbpoll.Sink, error) {
	f.Lock()
	defer f.Unlock()

	// Options common to all sinks, removed before the sink parses opts
	sinkOpts := map[string]string{}
	retry := RetryArgs{MonitorId: monitorId}
	for k, v := range opts {
		switch k {
		case "buffer-size":
			n := 0
			if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n < 1 {
				return nil, fmt.Errorf("%s: invalid buffer-size: %s", name, v)
			}
			retry.BufferSize = n
		case "send-timeout":
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid send-timeout: %s", name, err)
			}
			retry.SendTimeout = d
		default:
			sinkOpts[k] = v
		}
	}

	var sink dbpoll.Sink
	var err error
	switch name {
	case "log":
		return NewLogSink(monitorId, sinkOpts)
	case "dogstatsd":
		return NewDogStatsD(monitorId, sinkOpts, tags)
	case "signalfx":
		var client *http.Client
		if client, err = f.httpClient(name, monitorId, sinkOpts, tags); err != nil {
			return nil, err
		}
		sink, err = NewSignalFx(monitorId, sinkOpts, tags, client)
	case "datadog":
		var client *http.Client
		if client, err = f.httpClient(name, monitorId, sinkOpts, tags); err != nil {
			return nil, err
		}
		sink, err = NewDatadog(monitorId, sinkOpts, tags, client)
	case "cloudwatch":
		if f.AWSConfig == nil {
			return nil, fmt.Errorf("cloudwatch: no AWS config factory")
		}
		sink, err = NewCloudWatch(monitorId, sinkOpts, tags, f.AWSConfig)
	case "nats":
		sink, err = NewNATS(monitorId, sinkOpts, tags)
	case "prometheus":
		sink, err = NewPushgateway(monitorId, sinkOpts, tags)
	default:
		return nil, fmt.Errorf("%s not registered", name)
	}
	if err != nil {
		return nil, err
	}

	// Buffer and retry network sinks
	retry.Sink = sink
	return NewRetry(retry), nil
}

func (f *factory) httpClient(name, monitorId string, opts, tags map[string]string) (*http.Client, error) {
	if f.HTTPClient == nil {
		return &http.Client{}, nil
	}
	return f.HTTPClient.MakeForSink(name, monitorId, opts, tags)
}

// MetricName returns the dotted metric name for a metric key with an optional
// prefix: "overview/total_app_commits" -> "db2.overview.total_app_commits".
func MetricName(prefix, key string) string {
	name := strings.ReplaceAll(key, "/", ".")
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(prefix, ".") + "." + name
}

func tagList(tags map[string]string) []string {
	list := make([]string, 0, len(tags))
	for k, v := range tags {
		list = append(list, fmt.Sprintf("%s:%s", k, v))
	}
	sort.Strings(list)
	return list
}

func readFile(file string) (string, error) {
	bytes, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(bytes)), nil
}
