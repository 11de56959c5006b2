// Copyright 2024 Block, Inc.

package monitor_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbpoll/dbpoll"
	"github.com/dbpoll/dbpoll/event"
	"github.com/dbpoll/dbpoll/monitor"
	"github.com/dbpoll/dbpoll/status"
	"github.com/dbpoll/dbpoll/test/mock"
)

func TestMonitorCollect(t *testing.T) {
	db, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	events, done := captureEvents()
	defer done()

	var got *dbpoll.Metrics
	ok := mock.Sink{
		SendFunc: func(ctx context.Context, m *dbpoll.Metrics) error {
			got = m
			return nil
		},
	}
	bad := mock.Sink{
		SendFunc: func(ctx context.Context, m *dbpoll.Metrics) error {
			return fmt.Errorf("sink 100%% down")
		},
		NameFunc: func() string { return "bad" },
	}

	mon, err := monitor.NewMonitor(monitor.MonitorArgs{
		Config:     instance("overview"),
		Categories: categories,
		DbFactory:  dbFactory(db),
		Sinks:      []dbpoll.Sink{bad, ok},
	})
	require.NoError(t, err)
	assert.Equal(t, "db1", mon.MonitorId())
	assert.Nil(t, mon.Last())

	sqlMock.ExpectQuery(sqlRE(categories[0].SQL)).WillReturnRows(
		sqlmock.NewRows([]string{"TOTAL_APP_COMMITS", "BOGUS"}).AddRow("7", nil))

	require.NoError(t, mon.Collect(context.Background()))
	require.NotNil(t, got, "good sink sent after bad sink error")
	assert.Same(t, got, mon.Last())
	assert.Equal(t, []dbpoll.Metric{{Key: "overview/total_app_commits", Unit: "Statements", Value: 7}}, got.Values)
	assert.Equal(t, 1, count(*events, event.SINK_SEND_ERROR))
	assert.Equal(t, "sink 100% down", status.ReportMonitors()["db1"]["error:bad"])
	assert.Contains(t, status.ReportMonitors()["db1"], status.LAST_CYCLE)
}

func TestMonitorStartStop(t *testing.T) {
	var calls int32
	f := mock.DbFactory{
		MakeFunc: func(dbpoll.ConfigInstance) (*sql.DB, string, error) {
			atomic.AddInt32(&calls, 1)
			return nil, "", fmt.Errorf("connection refused")
		},
	}
	cfg := instance("overview")
	cfg.Freq = "50ms"
	mon, err := monitor.NewMonitor(monitor.MonitorArgs{
		Config:     cfg,
		Categories: categories,
		DbFactory:  f,
	})
	require.NoError(t, err)

	require.NoError(t, mon.Start())
	assert.True(t, mon.Running())
	assert.Error(t, mon.Start(), "already running")

	// First cycle runs immediately, then every freq; every cycle is skipped
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, 2*time.Second, 10*time.Millisecond)

	mon.Stop()
	assert.False(t, mon.Running())
	n := atomic.LoadInt32(&calls)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, n, atomic.LoadInt32(&calls), "no cycles after Stop")
	mon.Stop() // idempotent
	assert.Nil(t, mon.Last())
}

func TestMonitorPanic(t *testing.T) {
	events, done := captureEvents()
	defer done()

	var calls int32
	f := mock.DbFactory{
		MakeFunc: func(dbpoll.ConfigInstance) (*sql.DB, string, error) {
			atomic.AddInt32(&calls, 1)
			panic("driver bug")
		},
	}
	cfg := instance("overview")
	cfg.Freq = "20ms"
	mon, err := monitor.NewMonitor(monitor.MonitorArgs{
		Config:     cfg,
		Categories: categories,
		DbFactory:  f,
	})
	require.NoError(t, err)

	// Loop keeps running after a panic
	require.NoError(t, mon.Start())
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 2 }, 2*time.Second, 10*time.Millisecond)
	mon.Stop()
	assert.GreaterOrEqual(t, count(*events, event.MONITOR_PANIC), 2)
}

func TestMonitorInvalidConfig(t *testing.T) {
	cfg := instance("overview")
	cfg.Freq = "0s"
	_, err := monitor.NewMonitor(monitor.MonitorArgs{Config: cfg, Categories: categories, DbFactory: mock.DbFactory{}})
	assert.ErrorIs(t, err, dbpoll.ErrConfig)
}

type closeSink struct {
	mock.Sink
	closed int
}

func (s *closeSink) Close() error {
	s.closed++
	return nil
}

func TestMonitorClose(t *testing.T) {
	cs := &closeSink{}
	cfg := instance("overview")
	cfg.Freq = "1h"
	mon, err := monitor.NewMonitor(monitor.MonitorArgs{
		Config:     cfg,
		Categories: categories,
		DbFactory:  noConn,
		Sinks:      []dbpoll.Sink{mock.Sink{}, cs},
	})
	require.NoError(t, err)

	// Stop does not close sinks, so the monitor can be restarted
	require.NoError(t, mon.Start())
	mon.Stop()
	assert.Equal(t, 0, cs.closed)

	require.NoError(t, mon.Start())
	mon.Close()
	assert.False(t, mon.Running())
	assert.Equal(t, 1, cs.closed)

	mon.Close() // idempotent
	assert.Equal(t, 1, cs.closed)
	assert.Error(t, mon.Start())
}
