// Copyright 2024 Block, Inc.

// Package dbpoll provides the types shared by every dbpoll package: metrics,
// sinks, categories, and config.
package dbpoll

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path"
	"runtime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

const VERSION = "1.0.0"

var SHA = ""

// Metric is one reportable value: metric key, unit, and value.
// Counter is true if the value is a per-second rate derived from a counter.
type Metric struct {
	Key     string
	Unit    string
	Value   float64
	Counter bool
}

// Metrics are the metrics collected in one poll cycle from one instance.
// Values are sorted by key.
type Metrics struct {
	MonitorId string
	Begin     time.Time
	End       time.Time
	Values    []Metric
}

// Sink sends metrics to an external destination.
type Sink interface {
	// Send sends metrics. It should respect the context timeout.
	Send(context.Context, *Metrics) error

	// Name returns the sink name, like "log" or "signalfx".
	Name() string
}

// SinkFactory makes a Sink for a monitor.
type SinkFactory interface {
	Make(name, monitorId string, opts, tags map[string]string) (Sink, error)
}

// AWS is the AWS config for one monitor.
type AWS struct {
	Region string
}

// AWSConfigFactory makes AWS configs. The default is aws.ConfigFactory.
type AWSConfigFactory interface {
	Make(AWS) (aws.Config, error)
}

// HTTPClientFactory makes HTTP clients for sinks that send metrics over HTTP.
type HTTPClientFactory interface {
	MakeForSink(sinkName, monitorId string, opts, tags map[string]string) (*http.Client, error)
}

// Factories are factories used by the server to make AWS configs and HTTP
// clients. If a factory is nil, the server uses a built-in default.
type Factories struct {
	AWSConfig  AWSConfigFactory
	HTTPClient HTTPClientFactory
}

// Env is the process environment given to server.Boot.
type Env struct {
	Args []string
	Env  []string
}

var (
	Debugging = false
	debugLog  = log.New(os.Stderr, "DEBUG ", log.LstdFlags|log.Lmicroseconds)
)

// Debug prints a debug message to STDERR with the caller file:line if
// Debugging is true.
func Debug(msg string, v ...interface{}) {
	if !Debugging {
		return
	}
	_, file, line, _ := runtime.Caller(1)
	msg = fmt.Sprintf("%s:%d %s", path.Base(file), line, msg)
	debugLog.Printf(msg, v...)
}

// True returns true if b is non-nil and true.
func True(b *bool) bool {
	return b != nil && *b
}

// SetOrDefault returns a if not empty, else it returns b.
func SetOrDefault(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// FormatTime formats t as RFC3339 with milliseconds.
func FormatTime(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000Z07:00")
}

// TimeLimit returns d reduced by p percent (0.2 = 20%) but at most max.
// It is used to make context timeouts that end before the next poll cycle.
func TimeLimit(p float64, d, max time.Duration) time.Duration {
	off := time.Duration(float64(d) * p)
	if off > max {
		off = max
	}
	return d - off
}
