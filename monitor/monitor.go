// Copyright 2024 Block, Inc.

// Package monitor provides the Agent that collects metrics from one database
// instance, the Monitor that runs an Agent on a fixed frequency and sends its
// metrics to sinks, and the Loader that makes monitors for all instances.
package monitor

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/dbpoll/dbpoll"
	"github.com/dbpoll/dbpoll/dbconn"
	"github.com/dbpoll/dbpoll/event"
	"github.com/dbpoll/dbpoll/status"
)

type MonitorArgs struct {
	Config        dbpoll.ConfigInstance
	Categories    []dbpoll.Category
	DbFactory     dbconn.Factory
	Sinks         []dbpoll.Sink
	DeriveMetrics DeriveMetricsFunc // optional
}

// Monitor runs the Agent for one instance every config.freq and sends the
// metrics to all sinks configured for the instance.
type Monitor struct {
	monitorId string
	cfg       dbpoll.ConfigInstance
	agent     *Agent
	sinks     []dbpoll.Sink
	freq      time.Duration
	event     event.MonitorReceiver
	// --
	*sync.Mutex
	cancel   context.CancelFunc
	doneChan chan struct{}
	last     *dbpoll.Metrics
	closed   bool
}

// NewMonitor makes a Monitor but does not start it. It returns an error
// wrapping dbpoll.ErrConfig if the instance config is invalid.
func NewMonitor(args MonitorArgs) (*Monitor, error) {
	agent, err := NewAgent(AgentArgs{
		Config:        args.Config,
		Categories:    args.Categories,
		DbFactory:     args.DbFactory,
		DeriveMetrics: args.DeriveMetrics,
	})
	if err != nil {
		return nil, err
	}

	freq, _ := time.ParseDuration(agent.cfg.Freq) // validated by NewAgent
	if freq <= 0 {
		return nil, fmt.Errorf("%w: instance %s: freq must be greater than zero", dbpoll.ErrConfig, args.Config.Name)
	}

	return &Monitor{
		monitorId: agent.cfg.Name,
		cfg:       args.Config,
		agent:     agent,
		sinks:     args.Sinks,
		freq:      freq,
		event:     event.MonitorReceiver{MonitorId: agent.cfg.Name},
		Mutex:     &sync.Mutex{},
	}, nil
}

func (m *Monitor) MonitorId() string {
	return m.monitorId
}

// Config returns the instance config given to NewMonitor.
func (m *Monitor) Config() dbpoll.ConfigInstance {
	return m.cfg
}

// Agent returns the agent run by the monitor.
func (m *Monitor) Agent() *Agent {
	return m.agent
}

// Running returns true if the poll loop is running.
func (m *Monitor) Running() bool {
	m.Lock()
	defer m.Unlock()
	return m.doneChan != nil
}

// Last returns the metrics from the last successful poll cycle, or nil.
func (m *Monitor) Last() *dbpoll.Metrics {
	m.Lock()
	defer m.Unlock()
	return m.last
}

// Start starts the poll loop in a goroutine. The first cycle runs immediately.
func (m *Monitor) Start() error {
	m.Lock()
	defer m.Unlock()
	if m.closed {
		return fmt.Errorf("%s closed", m.monitorId)
	}
	if m.doneChan != nil {
		return fmt.Errorf("%s already running", m.monitorId)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.doneChan = make(chan struct{})
	go m.run(ctx, m.doneChan)
	m.event.Sendf(event.MONITOR_STARTED, "every %s, sinks: %d", m.freq, len(m.sinks))
	return nil
}

// Stop stops the poll loop and closes the database connection. It waits for
// the current cycle to return. Stop is idempotent.
func (m *Monitor) Stop() {
	m.Lock()
	if m.doneChan == nil {
		m.Unlock()
		return
	}
	m.cancel()
	doneChan := m.doneChan
	m.doneChan = nil
	m.Unlock()

	<-doneChan
	m.agent.Close()
	status.RemoveMonitor(m.monitorId)
	m.event.Send(event.MONITOR_STOPPED)
}

// Close stops the monitor and closes every sink that implements io.Closer.
// A closed monitor cannot be started. Close is idempotent.
func (m *Monitor) Close() {
	m.Stop()
	m.Lock()
	if m.closed {
		m.Unlock()
		return
	}
	m.closed = true
	m.Unlock()
	for _, s := range m.sinks {
		c, ok := s.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			m.event.Errorf(event.SINK_CLOSE_ERROR, "%s: %s", s.Name(), err)
		}
	}
}

func (m *Monitor) run(ctx context.Context, doneChan chan struct{}) {
	defer close(doneChan)

	ticker := time.NewTicker(m.freq)
	defer ticker.Stop()
	for {
		m.cycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// cycle runs one poll cycle and recovers from a panic so the next cycle runs.
func (m *Monitor) cycle(ctx context.Context) {
	defer func() {
		if err := recover(); err != nil {
			b := make([]byte, 4096)
			n := runtime.Stack(b, false)
			m.event.Errorf(event.MONITOR_PANIC, "PANIC: %s\n%s", err, string(b[0:n]))
		}
	}()
	m.Collect(ctx)
}

// Collect runs one poll cycle and sends the metrics to every sink. It returns
// the cycle error, if any. Sink errors are reported as events.
func (m *Monitor) Collect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dbpoll.TimeLimit(0.2, m.freq, 2*time.Second))
	defer cancel()

	t0 := time.Now()
	metrics, err := m.agent.PollCycle(ctx)
	if err != nil {
		status.Monitor(m.monitorId, status.LAST_CYCLE, "skipped at %s: %s", dbpoll.FormatTime(t0), err)
		return err
	}

	m.Lock()
	m.last = metrics
	m.Unlock()

	// Sinks have their own send timeout
	for _, s := range m.sinks {
		if err := s.Send(context.Background(), metrics); err != nil {
			m.event.Errorf(event.SINK_SEND_ERROR, "%s: %s", s.Name(), err)
			status.Monitor(m.monitorId, "error:"+s.Name(), "%s", err)
		} else {
			status.RemoveComponent(m.monitorId, "error:"+s.Name())
		}
	}

	status.Monitor(m.monitorId, status.LAST_CYCLE, "%d metrics at %s in %s",
		len(metrics.Values), dbpoll.FormatTime(t0), time.Since(t0))
	return nil
}
