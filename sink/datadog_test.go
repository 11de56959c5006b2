// Copyright 2022 Block, Inc.

package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"github.com/go-test/deep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbpoll/dbpoll"
	"github.com/dbpoll/dbpoll/test/mock"
)

func defaultOpts() map[string]string {
	return map[string]string{
		"api-key-auth": "testkey",
		"app-key-auth": "testappkey",
	}
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
	}
}

func testMetrics(n int) *dbpoll.Metrics {
	values := make([]dbpoll.Metric, 0, n)
	for i := 0; i < n; i++ {
		values = append(values, dbpoll.Metric{
			Key:   fmt.Sprintf("overview/metric%02d", i+1),
			Value: float64(i),
		})
	}
	return &dbpoll.Metrics{
		MonitorId: "db1",
		Begin:     time.Unix(1700000000, 0),
		End:       time.Unix(1700000001, 0),
		Values:    values,
	}
}

func TestDatadogSink(t *testing.T) {
	var gotPayload datadogV2.MetricPayload
	var gotHeader http.Header
	client := &http.Client{
		Transport: &mock.Transport{
			RoundTripFunc: func(r *http.Request) (*http.Response, error) {
				gotHeader = r.Header
				body, err := io.ReadAll(r.Body)
				if err != nil {
					return nil, err
				}
				if err := json.Unmarshal(body, &gotPayload); err != nil {
					return nil, err
				}
				return jsonResponse(http.StatusAccepted, `{"errors":[]}`), nil
			},
		},
	}

	opts := defaultOpts()
	opts["metric-prefix"] = "db2"
	dd, err := NewDatadog("db1", opts, map[string]string{"env": "test"}, client)
	require.NoError(t, err)

	err = dd.Send(context.Background(), testMetrics(2))
	require.NoError(t, err)

	assert.Equal(t, "testkey", gotHeader.Get("DD-API-KEY"))
	require.Len(t, gotPayload.Series, 2)
	assert.Equal(t, "db2.overview.metric01", gotPayload.Series[0].Metric)
	assert.Equal(t, []string{"env:test"}, gotPayload.Series[0].Tags)
	require.Len(t, gotPayload.Series[1].Points, 1)
	assert.Equal(t, 1.0, *gotPayload.Series[1].Points[0].Value)
	assert.Equal(t, int64(1700000000), *gotPayload.Series[1].Points[0].Timestamp)
}

func TestDatadogBatches(t *testing.T) {
	calls := 0
	var collected []string
	client := &http.Client{
		Transport: &mock.Transport{
			RoundTripFunc: func(r *http.Request) (*http.Response, error) {
				calls++
				var payload datadogV2.MetricPayload
				body, _ := io.ReadAll(r.Body)
				json.Unmarshal(body, &payload)
				for _, s := range payload.Series {
					collected = append(collected, s.Metric)
				}
				return jsonResponse(http.StatusAccepted, `{}`), nil
			},
		},
	}

	opts := defaultOpts()
	opts["batch-size"] = "10"
	dd, err := NewDatadog("db1", opts, nil, client)
	require.NoError(t, err)

	m := testMetrics(25)
	require.NoError(t, dd.Send(context.Background(), m))
	assert.Equal(t, 3, calls)

	expect := make([]string, 0, len(m.Values))
	for _, v := range m.Values {
		expect = append(expect, MetricName("", v.Key))
	}
	if diff := deep.Equal(collected, expect); diff != nil {
		t.Error(diff)
	}
}

func TestDatadogErrorResponseFromAPI(t *testing.T) {
	client := &http.Client{
		Transport: &mock.Transport{
			RoundTripFunc: func(r *http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusAccepted, `{"errors":["validation error 1","validation error 2"]}`), nil
			},
		},
	}

	dd, err := NewDatadog("db1", defaultOpts(), nil, client)
	require.NoError(t, err)

	err = dd.Send(context.Background(), testMetrics(1))
	require.Error(t, err)
	assert.Equal(t, "error response from Datadog: validation error 1,validation error 2", err.Error())
}

func TestDatadogOptions(t *testing.T) {
	_, err := NewDatadog("db1", map[string]string{"api-key-auth": "k"}, nil, &http.Client{})
	assert.Error(t, err, "app key required")

	opts := defaultOpts()
	opts["bogus"] = "x"
	_, err = NewDatadog("db1", opts, nil, &http.Client{})
	assert.EqualError(t, err, "invalid option: bogus")

	opts = defaultOpts()
	opts["batch-size"] = "0"
	_, err = NewDatadog("db1", opts, nil, &http.Client{})
	assert.Error(t, err)
}
