// Copyright 2024 Block, Inc.

package server_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-test/deep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbpoll/dbpoll"
	"github.com/dbpoll/dbpoll/aws"
	"github.com/dbpoll/dbpoll/event"
	"github.com/dbpoll/dbpoll/monitor"
	"github.com/dbpoll/dbpoll/proto"
	"github.com/dbpoll/dbpoll/server"
	"github.com/dbpoll/dbpoll/status"
	"github.com/dbpoll/dbpoll/test/mock"
)

var overview = dbpoll.Category{
	Name:   "overview",
	SQL:    "SELECT TOTAL_APP_COMMITS FROM overview",
	Result: dbpoll.SHAPE_ROW,
}

type testAPI struct {
	api     *server.API
	ml      *monitor.Loader
	ts      *httptest.Server
	sqlMock sqlmock.Sqlmock
}

func setup(t *testing.T) testAPI {
	t.Helper()
	status.Reset()

	db, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := dbpoll.DefaultConfig()
	cfg.DB2.Password = "secret-pw"
	cfg.Instances = []dbpoll.ConfigInstance{
		{
			Name:     "db1",
			Host:     "db2.local:50000",
			Database: "SAMPLE",
			User:     "db2inst1",
		},
	}

	ml := monitor.NewLoader(monitor.LoaderArgs{
		Config:     cfg,
		Categories: []dbpoll.Category{overview},
		DbFactory: mock.DbFactory{
			MakeFunc: func(dbpoll.ConfigInstance) (*sql.DB, string, error) {
				return db, "HOSTNAME=db2.local;PORT=50000;DATABASE=SAMPLE;UID=db2inst1;PWD=...;", nil
			},
		},
		RDSLoader: aws.RDSLoader{ClientFactory: mock.RDSClientFactory{}},
	})
	_, err = ml.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, ml.Count())

	ring := event.NewRing(10)
	ring.Recv(event.Event{Event: event.BOOT_START})
	ring.Recv(event.Event{Event: event.BOOT_ERROR, Error: true, Message: "oops"})

	api := server.NewAPI(server.APIArgs{
		Config:        cfg,
		Categories:    []dbpoll.Category{overview},
		MonitorLoader: ml,
		Events:        ring,
	})
	ts := httptest.NewServer(api)
	t.Cleanup(ts.Close)

	return testAPI{
		api:     api,
		ml:      ml,
		ts:      ts,
		sqlMock: sqlMock,
	}
}

func get(t *testing.T, url string, v interface{}) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if v != nil {
		require.NoError(t, json.Unmarshal(body, v), string(body))
	}
	return resp.StatusCode, string(body)
}

func TestAPIStatus(t *testing.T) {
	s := setup(t)

	var got proto.Status
	code, _ := get(t, s.ts.URL+"/status", &got)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, dbpoll.VERSION, got.Version)
	assert.Equal(t, uint(1), got.InstanceCount)

	var version string
	code, _ = get(t, s.ts.URL+"/version", &version)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, dbpoll.VERSION, version)
}

func TestAPIRegistered(t *testing.T) {
	s := setup(t)

	var got proto.Registered
	code, _ := get(t, s.ts.URL+"/registered", &got)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"overview"}, got.Categories)
	assert.Contains(t, got.Sinks, "log")
	assert.Contains(t, got.Sinks, "datadog")
}

func TestAPIConfigRedacted(t *testing.T) {
	s := setup(t)

	code, body := get(t, s.ts.URL+"/config", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.NotContains(t, body, "secret-pw")
	assert.Contains(t, body, "db2.local:50000")

	code, body = get(t, s.ts.URL+"/config?json", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.NotContains(t, body, "secret-pw")
	var cfg dbpoll.Config
	require.NoError(t, json.Unmarshal([]byte(body), &cfg))
	assert.Equal(t, "...", cfg.DB2.Password)
}

func TestAPIInstancesAndMetrics(t *testing.T) {
	s := setup(t)

	// No cycle yet
	var got []proto.Instance
	code, _ := get(t, s.ts.URL+"/instances", &got)
	assert.Equal(t, http.StatusOK, code)
	expect := []proto.Instance{
		{
			MonitorId:  "db1",
			Target:     "db2inst1@db2.local:50000/SAMPLE",
			Dialect:    "db2",
			Freq:       "60s",
			Categories: []string{"overview"},
		},
	}
	if diff := deep.Equal(got, expect); diff != nil {
		t.Error(diff)
	}

	code, body := get(t, s.ts.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, body)

	// One cycle
	s.sqlMock.ExpectQuery(regexp.QuoteMeta(overview.SQL)).WillReturnRows(
		sqlmock.NewRows([]string{"TOTAL_APP_COMMITS"}).AddRow("7"))
	require.NoError(t, s.ml.Monitor("db1").Collect(context.Background()))

	code, _ = get(t, s.ts.URL+"/instances", &got)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Metrics)
	assert.NotEmpty(t, got[0].LastCycle)

	code, body = get(t, s.ts.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `db2_overview_total_app_commits{instance="db1"} 7`)

	var st map[string]map[string]string
	code, _ = get(t, s.ts.URL+"/status/instances", &st)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, st["db1"][status.LAST_CYCLE], "1 metrics")
}

func TestAPIInstancesStartStop(t *testing.T) {
	s := setup(t)

	code, _ := get(t, s.ts.URL+"/instances/start", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = get(t, s.ts.URL+"/instances/start?id=nope", nil)
	assert.Equal(t, http.StatusNotFound, code)

	// Stop before start is a no-op
	code, _ = get(t, s.ts.URL+"/instances/stop?id=db1", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, s.ml.Monitor("db1").Running())
}

func TestAPIInstancesReload(t *testing.T) {
	s := setup(t)

	var got map[string]int

	// Same config, so nothing changes. Reload starts monitors, so stop after.
	code, _ := get(t, s.ts.URL+"/instances/reload", &got)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]int{"added": 0, "removed": 0, "changed": 0}, got)
	s.ml.StopMonitors()
}

func TestAPIEvents(t *testing.T) {
	s := setup(t)

	var got []event.Event
	code, _ := get(t, s.ts.URL+"/events", &got)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, got, 2)
	assert.Equal(t, event.BOOT_START, got[0].Event)

	code, _ = get(t, s.ts.URL+"/events?errors", &got)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, got, 1)
	assert.Equal(t, "oops", got[0].Message)
}

func TestAPIDebug(t *testing.T) {
	s := setup(t)
	defer func() { dbpoll.Debugging = false }()

	var got map[string]bool
	code, _ := get(t, s.ts.URL+"/debug", &got)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]bool{"debugging": true}, got)
	assert.True(t, dbpoll.Debugging)
}
