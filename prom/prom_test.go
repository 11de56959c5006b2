// Copyright 2022 Block, Inc.

package prom_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbpoll/dbpoll"
	"github.com/dbpoll/dbpoll/prom"
)

var last = []*dbpoll.Metrics{
	{
		MonitorId: "db1",
		Values: []dbpoll.Metric{
			{Key: "overview/total_app_commits", Unit: "Statements", Value: 42},
			{Key: "tablespace_DATA1/tbsp_utilization_percent", Value: 80.5},
		},
	},
	nil, // instance without a poll cycle yet
}

func TestName(t *testing.T) {
	assert.Equal(t, "db2_overview_total_app_commits", prom.Name("db2", "overview/total_app_commits"))
	assert.Equal(t, "db2_tablespace_data1_tbsp_used_pages", prom.Name("db2", "tablespace_DATA1/tbsp_used_pages"))
}

func TestCollectorText(t *testing.T) {
	c := prom.NewCollector("", func() []*dbpoll.Metrics { return last })
	got, err := c.Text()
	require.NoError(t, err)

	expect := `# HELP db2_overview_total_app_commits dbpoll metric overview/total_app_commits (Statements)
# TYPE db2_overview_total_app_commits gauge
db2_overview_total_app_commits{instance="db1"} 42
# HELP db2_tablespace_data1_tbsp_utilization_percent dbpoll metric tablespace_DATA1/tbsp_utilization_percent
# TYPE db2_tablespace_data1_tbsp_utilization_percent gauge
db2_tablespace_data1_tbsp_utilization_percent{instance="db1"} 80.5
`
	assert.Equal(t, expect, got)
}

func TestHandler(t *testing.T) {
	c := prom.NewCollector("db2", func() []*dbpoll.Metrics { return last })
	srv := httptest.NewServer(prom.Handler(c))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `db2_overview_total_app_commits{instance="db1"} 42`)
}
