// Copyright 2024 Block, Inc.

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/dbpoll/dbpoll"
	"github.com/dbpoll/dbpoll/event"
	"github.com/dbpoll/dbpoll/monitor"
	"github.com/dbpoll/dbpoll/prom"
	"github.com/dbpoll/dbpoll/proto"
	"github.com/dbpoll/dbpoll/sink"
	"github.com/dbpoll/dbpoll/status"
)

type APIArgs struct {
	Config        dbpoll.Config
	Categories    []dbpoll.Category
	MonitorLoader *monitor.Loader
	Events        *event.Ring // optional, for GET /events
}

// API is the HTTP API. Every response is JSON except GET /config (YAML by
// default) and GET /metrics (Prometheus text exposition).
type API struct {
	cfg           dbpoll.Config
	categories    []dbpoll.Category
	monitorLoader *monitor.Loader
	events        *event.Ring
	// --
	httpServer *http.Server
	startTs    time.Time
	stopped    atomic.Bool
}

func NewAPI(args APIArgs) *API {
	api := &API{
		cfg:           args.Config,
		categories:    args.Categories,
		monitorLoader: args.MonitorLoader,
		events:        args.Events,
		startTs:       time.Now(),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/config", api.config)
	mux.HandleFunc("/registered", api.registered)
	mux.HandleFunc("/version", api.version)
	mux.HandleFunc("/events", api.eventList)
	mux.HandleFunc("/debug", api.debug)

	mux.HandleFunc("/instances", api.instances)
	mux.HandleFunc("/instances/start", api.instancesStart)
	mux.HandleFunc("/instances/stop", api.instancesStop)
	mux.HandleFunc("/instances/reload", api.instancesReload)

	mux.HandleFunc("/status", api.status)
	mux.HandleFunc("/status/instances", api.statusInstances)

	mux.Handle("/metrics", prom.Handler(prom.NewCollector(prom.DEFAULT_NAMESPACE, api.lastMetrics)))

	api.httpServer = &http.Server{
		Addr:    args.Config.API.Bind,
		Handler: mux,
	}

	return api
}

// ServeHTTP allows the API to statisfy the http.Handler interface.
func (api *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	api.httpServer.Handler.ServeHTTP(w, r)
}

// Run runs the API and restarts on error. It returns nil after Shutdown.
func (api *API) Run() error {
	errChan := make(chan error, 1)
	for {
		go func() {
			var serr error // http Sever error
			defer func() { // catch panic
				if r := recover(); r != nil {
					b := make([]byte, 4096)
					n := runtime.Stack(b, false)
					serr = fmt.Errorf("PANIC: server API: %s\n%s", r, string(b[0:n]))
				}
				errChan <- serr
			}()
			dbpoll.Debug("listen on %s", api.httpServer.Addr)
			serr = api.httpServer.ListenAndServe()
		}()
		err := <-errChan
		if err == http.ErrServerClosed || api.stopped.Load() {
			dbpoll.Debug("shutdown")
			return nil
		}
		event.Errorf(event.SERVER_API_ERROR, "%v", err)
		time.Sleep(1 * time.Second) // between crashes
	}
}

// Shutdown stops the API. Run returns nil after Shutdown.
func (api *API) Shutdown(ctx context.Context) error {
	api.stopped.Store(true)
	return api.httpServer.Shutdown(ctx)
}

// Stopped returns true after Shutdown.
func (api *API) Stopped() bool {
	return api.stopped.Load()
}

func (api *API) lastMetrics() []*dbpoll.Metrics {
	monitors := api.monitorLoader.Monitors()
	metrics := make([]*dbpoll.Metrics, 0, len(monitors))
	for _, m := range monitors {
		if last := m.Last(); last != nil {
			metrics = append(metrics, last)
		}
	}
	return metrics
}

// --------------------------------------------------------------------------
// Server endpoints
// --------------------------------------------------------------------------

func (api *API) config(w http.ResponseWriter, r *http.Request) {
	dbpoll.Debug("%s %s", r.Method, r.URL.Path)
	cfg := api.cfg.Redacted()
	if r.URL.Query().Has("json") {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(cfg)
	} else {
		w.Header().Set("Content-Type", "application/yaml")
		yaml.NewEncoder(w).Encode(cfg)
	}
}

func (api *API) registered(w http.ResponseWriter, r *http.Request) {
	dbpoll.Debug("%s %s", r.Method, r.URL.Path)
	rl := proto.Registered{
		Sinks:      sink.List(),
		Categories: make([]string, len(api.categories)),
	}
	for i := range api.categories {
		rl.Categories[i] = api.categories[i].Name
	}
	writeJSON(w, rl)
}

func (api *API) version(w http.ResponseWriter, r *http.Request) {
	dbpoll.Debug("%s %s", r.Method, r.URL.Path)
	writeJSON(w, dbpoll.VERSION)
}

func (api *API) eventList(w http.ResponseWriter, r *http.Request) {
	dbpoll.Debug("%s %s", r.Method, r.URL.Path)
	events := []event.Event{}
	if api.events != nil {
		events = api.events.Events()
	}
	if r.URL.Query().Has("errors") {
		errs := []event.Event{}
		for _, e := range events {
			if e.Error {
				errs = append(errs, e)
			}
		}
		events = errs
	}
	writeJSON(w, events)
}

func (api *API) debug(w http.ResponseWriter, r *http.Request) {
	dbpoll.Debug("%s %s", r.Method, r.URL.Path)
	dbpoll.Debugging = !dbpoll.Debugging
	writeJSON(w, map[string]bool{"debugging": dbpoll.Debugging})
}

// --------------------------------------------------------------------------
// Instance endpoints
// --------------------------------------------------------------------------

func (api *API) instances(w http.ResponseWriter, r *http.Request) {
	dbpoll.Debug("%s %s", r.Method, r.URL.Path)
	monitors := api.monitorLoader.Monitors()
	list := make([]proto.Instance, len(monitors))
	for i, m := range monitors {
		cfg := m.Config()
		in := proto.Instance{
			MonitorId:  m.MonitorId(),
			Target:     fmt.Sprintf("%s@%s/%s", cfg.User, cfg.Host, cfg.Database),
			Dialect:    cfg.Dialect,
			Freq:       cfg.Freq,
			Categories: m.Agent().Categories(),
			Running:    m.Running(),
		}
		if last := m.Last(); last != nil {
			in.LastCycle = dbpoll.FormatTime(last.Begin)
			in.Metrics = len(last.Values)
		}
		list[i] = in
	}
	writeJSON(w, list)
}

func (api *API) instancesReload(w http.ResponseWriter, r *http.Request) {
	dbpoll.Debug("%s %s", r.Method, r.URL.Path)
	ch, err := api.monitorLoader.Load(r.Context())
	if err != nil {
		errMsg := html.EscapeString(fmt.Sprintf("Error reloading instances: %s", err))
		http.Error(w, errMsg, http.StatusConflict)
		return
	}
	api.monitorLoader.StartMonitors()
	writeJSON(w, map[string]int{
		"added":   len(ch.Added),
		"removed": len(ch.Removed),
		"changed": len(ch.Changed),
	})
}

func (api *API) instancesStart(w http.ResponseWriter, r *http.Request) {
	dbpoll.Debug("%s %s", r.Method, r.URL.Path)
	monitorId, mon, ok := api.monitorId(w, r)
	if !ok {
		return // monitorId() wrote error response
	}
	dbpoll.Debug("start %s", monitorId)
	if err := mon.Start(); err != nil {
		errMsg := html.EscapeString(fmt.Sprintf("Error starting %s: %s", monitorId, err))
		http.Error(w, errMsg, http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (api *API) instancesStop(w http.ResponseWriter, r *http.Request) {
	dbpoll.Debug("%s %s", r.Method, r.URL.Path)
	monitorId, mon, ok := api.monitorId(w, r)
	if !ok {
		return // monitorId() wrote error response
	}
	dbpoll.Debug("stop %s", monitorId)
	mon.Stop()
	w.WriteHeader(http.StatusOK)
}

// --------------------------------------------------------------------------
// Status endpoints
// --------------------------------------------------------------------------

func (api *API) status(w http.ResponseWriter, r *http.Request) {
	dbpoll.Debug("%s %s", r.Method, r.URL.Path)
	writeJSON(w, proto.Status{
		Started:       dbpoll.FormatTime(api.startTs.UTC()),
		Uptime:        int64(time.Since(api.startTs).Seconds()),
		InstanceCount: uint(api.monitorLoader.Count()),
		Internal:      status.ReportServer(),
		Version:       dbpoll.VERSION,
	})
}

func (api *API) statusInstances(w http.ResponseWriter, r *http.Request) {
	dbpoll.Debug("%s %s", r.Method, r.URL.Path)
	writeJSON(w, status.ReportMonitors())
}

// --------------------------------------------------------------------------
// Helper funcs

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		dbpoll.Debug("cannot encode response: %s", err)
	}
}

// monitorId returns the monitor ID from URL query param '?id=monitorId' and
// its monitor. On false, the caller must return because the HTTP error
// response has been written.
func (api *API) monitorId(w http.ResponseWriter, r *http.Request) (string, *monitor.Monitor, bool) {
	monitorId := r.URL.Query().Get("id")
	if monitorId == "" {
		http.Error(w, "missing id=instance in query", http.StatusBadRequest)
		return "", nil, false
	}
	mon := api.monitorLoader.Monitor(monitorId)
	if mon == nil {
		http.Error(w, fmt.Sprintf("instance %s not loaded", html.EscapeString(monitorId)), http.StatusNotFound)
		return "", nil, false
	}
	// Avoid code scanning alert "Log entries created from user input"
	monitorId = strings.Replace(monitorId, "\n", "", -1)
	monitorId = strings.Replace(monitorId, "\r", "", -1)
	return monitorId, mon, true
}
