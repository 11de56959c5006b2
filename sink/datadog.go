// Copyright 2022 Block, Inc.

package sink

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"github.com/dbpoll/dbpoll"
	"github.com/dbpoll/dbpoll/status"
)

const DEFAULT_DATADOG_BATCH_SIZE = 1000

// Datadog sends metrics to the Datadog metrics API.
type Datadog struct {
	monitorId  string
	tags       []string // monitor tags (dimensions)
	prefix     string   // metric-prefix
	batchSize  int      // batch-size
	metricsApi *datadogV2.MetricsApi
	apiKeyAuth string
	appKeyAuth string
}

func NewDatadog(monitorId string, opts, tags map[string]string, httpClient *http.Client) (*Datadog, error) {
	c := datadog.NewConfiguration()
	c.HTTPClient = httpClient

	d := &Datadog{
		monitorId:  monitorId,
		tags:       tagList(tags),
		batchSize:  DEFAULT_DATADOG_BATCH_SIZE,
		metricsApi: datadogV2.NewMetricsApi(datadog.NewAPIClient(c)),
	}

	for k, v := range opts {
		var err error
		switch k {
		case "api-key-auth":
			d.apiKeyAuth = v
		case "api-key-auth-file":
			d.apiKeyAuth, err = readFile(v)
		case "app-key-auth":
			d.appKeyAuth = v
		case "app-key-auth-file":
			d.appKeyAuth, err = readFile(v)
		case "metric-prefix":
			if v == "" {
				return nil, fmt.Errorf("datadog sink metric-prefix is empty string; value required when option is specified")
			}
			d.prefix = v
		case "batch-size":
			d.batchSize, err = strconv.Atoi(v)
			if err == nil && d.batchSize < 1 {
				err = fmt.Errorf("batch-size must be greater than zero")
			}
		default:
			return nil, fmt.Errorf("invalid option: %s", k)
		}
		if err != nil {
			return nil, fmt.Errorf("datadog sink %s: %w", k, err)
		}
	}

	if d.apiKeyAuth == "" {
		return nil, fmt.Errorf("datadog sink required either api-key-auth or api-key-auth-file")
	}
	if d.appKeyAuth == "" {
		return nil, fmt.Errorf("datadog sink required either app-key-auth or app-key-auth-file")
	}

	return d, nil
}

func (s *Datadog) Send(ctx context.Context, m *dbpoll.Metrics) error {
	status.Monitor(s.monitorId, s.Name(), "sending metrics")
	n := 0
	defer func() {
		status.Monitor(s.monitorId, s.Name(), "last sent %d metrics at %s", n, dbpoll.FormatTime(time.Now()))
	}()

	if len(m.Values) == 0 {
		return nil
	}

	ts := m.Begin.Unix()
	series := make([]datadogV2.MetricSeries, len(m.Values))
	for i := range m.Values {
		series[i] = datadogV2.MetricSeries{
			Metric: MetricName(s.prefix, m.Values[i].Key),
			Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
			Points: []datadogV2.MetricPoint{
				{
					Value:     datadog.PtrFloat64(m.Values[i].Value),
					Timestamp: datadog.PtrInt64(ts),
				},
			},
			Tags: s.tags,
		}
		if m.Values[i].Unit != "" {
			series[i].Unit = datadog.PtrString(m.Values[i].Unit)
		}
	}

	ddCtx := context.WithValue(
		ctx,
		datadog.ContextAPIKeys,
		map[string]datadog.APIKey{
			"apiKeyAuth": {Key: s.apiKeyAuth},
			"appKeyAuth": {Key: s.appKeyAuth},
		},
	)

	for len(series) > 0 {
		batch := series
		if len(batch) > s.batchSize {
			batch = series[:s.batchSize]
		}
		series = series[len(batch):]

		payload := datadogV2.MetricPayload{Series: batch}
		resp, r, err := s.metricsApi.SubmitMetrics(ddCtx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
		if err != nil {
			if r != nil {
				dbpoll.Debug("%s: datadog response: %s", s.monitorId, r.Status)
			}
			return err
		}
		if len(resp.Errors) > 0 {
			return fmt.Errorf("error response from Datadog: %s", strings.Join(resp.Errors, ","))
		}
		n += len(batch)
	}

	return nil
}

func (s *Datadog) Name() string {
	return "datadog"
}
