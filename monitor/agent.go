// Copyright 2024 Block, Inc.

package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dbpoll/dbpoll"
	"github.com/dbpoll/dbpoll/dbconn"
	"github.com/dbpoll/dbpoll/event"
	"github.com/dbpoll/dbpoll/meta"
	"github.com/dbpoll/dbpoll/query"
	"github.com/dbpoll/dbpoll/sqlutil"
	"github.com/dbpoll/dbpoll/status"
)

// DeriveMetricsFunc can add metrics computed from the raw values of one poll
// cycle. It is called only when the overview category is enabled.
type DeriveMetricsFunc func(values map[string]float64)

type AgentArgs struct {
	Config        dbpoll.ConfigInstance
	Categories    []dbpoll.Category
	DbFactory     dbconn.Factory
	DeriveMetrics DeriveMetricsFunc // optional
	Now           func() time.Time  // optional, for testing
}

// Agent collects metrics from one database instance. Each call to PollCycle
// connects (or reuses the connection), runs every enabled category, and
// returns the reportable metrics. An Agent shares nothing with other Agents.
type Agent struct {
	cfg           dbpoll.ConfigInstance
	monitorId     string
	categories    []dbpoll.Category // enabled, in config order
	overview      bool
	registry      *meta.Registry
	conn          *dbconn.Manager
	runner        query.Runner
	deriveMetrics DeriveMetricsFunc
	now           func() time.Time
	event         event.MonitorReceiver
	// --
	*sync.Mutex
	firstReport bool
}

// NewAgent validates the config and builds the metric meta registry. It
// returns an error wrapping dbpoll.ErrConfig if a required parameter is
// missing. It does not connect to the database.
func NewAgent(args AgentArgs) (*Agent, error) {
	cfg := args.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.SetBuiltinDefaults()

	if args.DbFactory == nil {
		return nil, fmt.Errorf("%w: instance %s: no database factory", dbpoll.ErrConfig, cfg.Name)
	}
	conn, err := dbconn.NewManager(cfg, args.DbFactory)
	if err != nil {
		return nil, err
	}

	now := args.Now
	if now == nil {
		now = time.Now
	}

	a := &Agent{
		cfg:           cfg,
		monitorId:     cfg.Name,
		registry:      meta.NewRegistry(args.Categories, now),
		conn:          conn,
		runner:        query.NewRunner(cfg.Name),
		deriveMetrics: args.DeriveMetrics,
		now:           now,
		event:         event.MonitorReceiver{MonitorId: cfg.Name},
		Mutex:         &sync.Mutex{},
		firstReport:   true,
	}

	enabled := map[string]bool{}
	for _, name := range cfg.EnabledCategories() {
		enabled[name] = true
	}
	for _, c := range args.Categories {
		if !enabled[c.Name] {
			continue
		}
		a.categories = append(a.categories, c)
		delete(enabled, c.Name)
		if c.Name == "overview" {
			a.overview = true
		}
	}
	for name := range enabled {
		a.event.Errorf(event.CATEGORY_UNDEFINED, "metrics: %s: no such category", name)
	}

	a.event.Sendf(event.AGENT_INIT, "%s: %s@%s/%s metrics: %v", a.Info(), cfg.User, cfg.Host, cfg.Database, a.Categories())
	return a, nil
}

// Info returns the agent name and version.
func (a *Agent) Info() string {
	return fmt.Sprintf("Agent Name: %s. Agent Version: %s", a.cfg.Name, dbpoll.VERSION)
}

// Categories returns the names of enabled categories in the order they run.
func (a *Agent) Categories() []string {
	names := make([]string, len(a.categories))
	for i := range a.categories {
		names[i] = a.categories[i].Name
	}
	return names
}

// PollCycle runs one poll cycle. If there is no connection, the cycle is
// skipped and the returned error wraps dbpoll.ErrNoConnection. Query errors
// are reported but not returned: a failed category contributes no metrics.
//
// Calls are serialized, so PollCycle is safe to call from any goroutine.
func (a *Agent) PollCycle(ctx context.Context) (*dbpoll.Metrics, error) {
	a.Lock()
	defer a.Unlock()

	begin := a.now()
	status.Monitor(a.monitorId, status.POLL_CYCLE, "connecting")
	defer status.RemoveComponent(a.monitorId, status.POLL_CYCLE)

	conn, err := a.conn.Conn(ctx)
	if err != nil {
		a.event.Errorf(event.POLL_CYCLE_SKIPPED, "%s", err)
		return nil, err
	}

	// Run every enabled category. Keys are category-prefixed, so categories
	// never overwrite each other.
	values := map[string]float64{}
	for _, c := range a.categories {
		if ctx.Err() != nil {
			a.event.Errorf(event.QUERY_ERROR, "%s: %s", c.Name, ctx.Err())
			break
		}
		if !a.versionOK(ctx, conn, c) {
			continue
		}
		status.Monitor(a.monitorId, status.POLL_CYCLE, "running %s", c.Name)
		v, err := a.runner.Run(ctx, conn.DB, c.Name, c.SQL, c.Result)
		if err != nil && dbconn.ConnectionLost(err) {
			// Remaining categories would fail too
			a.conn.Invalidate()
			break
		}
		for k := range v {
			values[k] = v[k]
		}
	}

	if a.overview && a.deriveMetrics != nil {
		a.deriveMetrics(values)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	metrics := &dbpoll.Metrics{
		MonitorId: a.monitorId,
		Begin:     begin,
		Values:    make([]dbpoll.Metric, 0, len(keys)),
	}
	for _, key := range keys {
		raw := values[key]
		m, ok := a.registry.Classify(key)
		if !ok {
			if a.firstReport {
				a.event.Sendf(event.METRIC_UNREGISTERED, "%s: reported with default unit", key)
			}
			metrics.Values = append(metrics.Values, dbpoll.Metric{Key: key, Unit: meta.DEFAULT_UNIT, Value: raw})
			continue
		}
		v, ok := a.registry.Transform(m, raw)
		if !ok {
			continue // counter has no rate yet
		}
		metrics.Values = append(metrics.Values, dbpoll.Metric{
			Key:     key,
			Unit:    m.Unit,
			Value:   v,
			Counter: m.IsCounter(),
		})
	}
	metrics.End = a.now()

	a.firstReport = false
	a.event.Sendf(event.POLL_CYCLE_DONE, "%d metrics from %d categories in %s",
		len(metrics.Values), len(a.categories), metrics.End.Sub(begin))
	return metrics, nil
}

// versionOK returns true if the category has no min version or the server
// version is greater than or equal to it.
func (a *Agent) versionOK(ctx context.Context, conn *dbconn.Conn, c dbpoll.Category) bool {
	if c.MinVersion == "" {
		return true
	}
	v, err := conn.Version(ctx)
	if err != nil {
		a.event.Errorf(event.DB_VERSION_ERROR, "%s: cannot get server version: %s", c.Name, err)
		return false
	}
	ok, err := sqlutil.VersionGTE(v, c.MinVersion)
	if err != nil {
		a.event.Errorf(event.CATEGORY_SKIPPED, "%s: invalid min_version %s: %s", c.Name, c.MinVersion, err)
		return false
	}
	if !ok {
		if a.firstReport {
			a.event.Sendf(event.CATEGORY_SKIPPED, "%s: server version %s < min_version %s", c.Name, v.Original(), c.MinVersion)
		}
		return false
	}
	return true
}

// Close closes the database connection. The Agent can be used again: the
// next PollCycle reconnects.
func (a *Agent) Close() {
	a.conn.Close()
}
