package sink

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/signalfx/golib/v3/datapoint"
	"github.com/signalfx/golib/v3/sfxclient"

	"github.com/dbpoll/dbpoll"
	"github.com/dbpoll/dbpoll/status"
)

// SignalFx sends metrics to SignalFx as gauges. Monitor tags are dimensions.
type SignalFx struct {
	monitorId string
	prefix    string
	dim       map[string]string
	sink      *sfxclient.HTTPSink
}

func NewSignalFx(monitorId string, opts, tags map[string]string, httpClient *http.Client) (*SignalFx, error) {
	sink := sfxclient.NewHTTPSink()
	if httpClient != nil {
		sink.Client = httpClient
	}

	dim := map[string]string{"instance": monitorId}
	for k, v := range tags {
		dim[k] = v
	}

	s := &SignalFx{
		monitorId: monitorId,
		dim:       dim,
		sink:      sink,
	}

	for k, v := range opts {
		switch k {
		case "auth-token-file":
			token, err := readFile(v)
			if err != nil {
				return nil, fmt.Errorf("signalfx sink auth-token-file: %w", err)
			}
			sink.AuthToken = token
		case "auth-token":
			sink.AuthToken = v
		case "url":
			sink.DatapointEndpoint = v
		case "metric-prefix":
			s.prefix = v
		default:
			return nil, fmt.Errorf("invalid option: %s", k)
		}
	}

	if sink.AuthToken == "" {
		return nil, fmt.Errorf("signalfx sink requires auth-token or auth-token-file")
	}

	return s, nil
}

func (s *SignalFx) Send(ctx context.Context, m *dbpoll.Metrics) error {
	status.Monitor(s.monitorId, s.Name(), "sending metrics")
	if len(m.Values) == 0 {
		return nil
	}
	dp := make([]*datapoint.Datapoint, len(m.Values))
	for i := range m.Values {
		dp[i] = sfxclient.GaugeF(MetricName(s.prefix, m.Values[i].Key), s.dim, m.Values[i].Value)
		dp[i].Timestamp = m.Begin
	}
	if err := s.sink.AddDatapoints(ctx, dp); err != nil {
		return err
	}
	dbpoll.Debug("%s: sent %d metrics", s.monitorId, len(dp))
	status.Monitor(s.monitorId, s.Name(), "last sent %d metrics at %s", len(dp), dbpoll.FormatTime(time.Now()))
	return nil
}

func (s *SignalFx) Name() string {
	return "signalfx"
}
