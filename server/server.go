// Copyright 2024 Block, Inc.

// Package server provides the core runtime for dbpoll.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dbpoll/dbpoll"
	"github.com/dbpoll/dbpoll/aws"
	"github.com/dbpoll/dbpoll/dbconn"
	"github.com/dbpoll/dbpoll/event"
	"github.com/dbpoll/dbpoll/monitor"
	"github.com/dbpoll/dbpoll/sink"
	"github.com/dbpoll/dbpoll/status"
)

// Plugins are optional hooks that replace or extend built-in behavior.
type Plugins struct {
	// LoadConfig replaces loading the config file. It is passed the
	// default config.
	LoadConfig func(dbpoll.Config) (dbpoll.Config, error)

	// LoadInstances replaces the built-in instance sources.
	LoadInstances monitor.LoadFunc

	// StartMonitor returns false to not start the monitor for an instance.
	StartMonitor func(dbpoll.ConfigInstance) bool

	// ModifyDB is called for every new *sql.DB. The string is the
	// print-safe DSN.
	ModifyDB func(*sql.DB, string)

	// DeriveMetrics is called each poll cycle with the collected values
	// before they are classified. It may add or modify values.
	DeriveMetrics monitor.DeriveMetricsFunc
}

// Factories are the factories used by the server. A nil factory is replaced
// by a built-in default in Boot.
type Factories struct {
	AWSConfig  dbpoll.AWSConfigFactory
	HTTPClient dbpoll.HTTPClientFactory
	DbConn     dbconn.Factory
}

// ControlChans is a convenience function to return arguments for Run.
func ControlChans() (stopChan, doneChan chan struct{}) {
	return make(chan struct{}), make(chan struct{})
}

// Defaults returns the default environment, plugins, and factories. It is used
// in bin/dbpoll/main.go as the args to Server.Boot.
func Defaults() (dbpoll.Env, Plugins, Factories) {
	factories := Factories{
		AWSConfig: &aws.ConfigFactory{},
		// DbConn and HTTPClient made after loading config
	}
	env := dbpoll.Env{
		Args: os.Args[1:],
		Env:  os.Environ(),
	}
	return env, Plugins{}, factories
}

type httpClientFactory struct {
	cfg dbpoll.ConfigHTTP
}

func (f httpClientFactory) MakeForSink(sinkName, monitorId string, opts, tags map[string]string) (*http.Client, error) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}
	if f.cfg.Proxy != "" {
		proxy, err := url.Parse(f.cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid http.proxy: %s", err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxy)}
		dbpoll.Debug("%s sink %s http proxy via %s", monitorId, sinkName, proxy.Host)
	}
	return client, nil
}

// --------------------------------------------------------------------------

// Server is the core runtime for one instance of dbpoll: Boot loads and makes
// everything, and Run starts everything.
type Server struct {
	cfg           dbpoll.Config
	cmdline       CommandLine
	categories    []dbpoll.Category
	monitorLoader *monitor.Loader
	api           *API
	events        *event.Ring
}

// Boot loads, validates, and makes everything but does not start anything.
// Any error is fatal. Boot must be called once before Run.
func (s *Server) Boot(env dbpoll.Env, plugins Plugins, factories Factories) error {
	var err error
	s.cmdline, err = ParseCommandLine(env.Args)
	if err != nil {
		return err
	}

	// Set global debug var first because all code calls dbpoll.Debug
	dbpoll.Debugging = s.cmdline.Options.Debug
	dbpoll.Debug("dbpoll %s %+v", dbpoll.VERSION, s.cmdline)

	if s.cmdline.Options.Help {
		printHelp()
		os.Exit(0)
	}
	if s.cmdline.Options.Version {
		fmt.Println("dbpoll", dbpoll.VERSION)
		os.Exit(0)
	}

	startTs := time.Now()
	status.Server("server", "booting")

	event.SetReceiver(event.Log{All: s.cmdline.Options.Log}, false)
	s.events = event.NewRing(100)
	event.Subscribe(s.events)
	event.Sendf(event.BOOT_START, "dbpoll %s", dbpoll.VERSION) // very first event

	// ----------------------------------------------------------------------
	// Env files, before config so config can reference their env vars
	for _, file := range s.cmdline.Options.EnvFile {
		if err := godotenv.Load(file); err != nil {
			event.Errorf(event.BOOT_ERROR, "cannot load env file %s: %s", file, err)
			return err
		}
		event.Sendf(event.BOOT_ENV_FILE, "%s", file)
	}

	// ----------------------------------------------------------------------
	// Config
	event.Send(event.BOOT_CONFIG_LOADING)
	status.Server("server", "boot: loading config")

	cfg := dbpoll.DefaultConfig()
	if plugins.LoadConfig != nil {
		dbpoll.Debug("call plugins.LoadConfig")
		cfg, err = plugins.LoadConfig(cfg)
	} else {
		// --config must exist; the default file is optional
		required := true
		if s.cmdline.Options.Config == "" {
			s.cmdline.Options.Config = dbpoll.DEFAULT_CONFIG_FILE
			required = false
		}
		cfg, err = dbpoll.LoadConfig(s.cmdline.Options.Config, cfg, required)
	}
	if err != nil {
		event.Errorf(event.BOOT_ERROR, "%s", err)
		return err
	}

	if err := cfg.Validate(); err != nil {
		event.Errorf(event.BOOT_CONFIG_INVALID, "%s", err)
		return err
	}

	cfg.InterpolateEnvVars()
	if s.cmdline.Options.Categories != "" {
		cfg.Categories = s.cmdline.Options.Categories
	}
	s.cfg = cfg // final immutable config
	event.Send(event.BOOT_CONFIG_LOADED)

	if s.cmdline.Options.PrintConfig {
		printYAML(s.cfg.Redacted())
	}

	// ----------------------------------------------------------------------
	// Metric categories
	status.Server("server", "boot: loading categories")
	s.categories, err = dbpoll.LoadCategories(cfg.Categories, cfg.Categories != dbpoll.DEFAULT_CATEGORIES_FILE)
	if err != nil {
		event.Errorf(event.BOOT_ERROR, "%s", err)
		return err
	}
	event.Sendf(event.BOOT_CATEGORIES_LOADED, "%d categories from %s", len(s.categories), cfg.Categories)

	// ----------------------------------------------------------------------
	// Factories

	// HTTP client factory uses config.http, which is why it's made now
	if factories.AWSConfig == nil {
		factories.AWSConfig = &aws.ConfigFactory{}
	}
	if factories.HTTPClient == nil {
		factories.HTTPClient = httpClientFactory{cfg: cfg.HTTP}
	}
	if factories.DbConn == nil {
		factories.DbConn = dbconn.NewConnFactory(factories.AWSConfig, plugins.ModifyDB)
	}
	sink.InitFactory(dbpoll.Factories{
		AWSConfig:  factories.AWSConfig,
		HTTPClient: factories.HTTPClient,
	})

	// ----------------------------------------------------------------------
	// Instances
	status.Server("server", "boot: loading instances")

	// Make but don't start monitors. They're started in Run.
	s.monitorLoader = monitor.NewLoader(monitor.LoaderArgs{
		Config:        s.cfg,
		Categories:    s.categories,
		DbFactory:     factories.DbConn,
		RDSLoader:     aws.RDSLoader{ClientFactory: aws.NewRDSClientFactory(factories.AWSConfig)},
		LoadInstances: plugins.LoadInstances,
		StartMonitor:  plugins.StartMonitor,
		DeriveMetrics: plugins.DeriveMetrics,
	})
	if _, err := s.monitorLoader.Load(context.Background()); err != nil {
		event.Errorf(event.BOOT_ERROR, "%s", err)
		return err
	}

	if s.cmdline.Options.PrintInstances {
		fmt.Println(s.monitorLoader.Print())
	}

	// ----------------------------------------------------------------------
	// API
	if !s.cfg.API.Disable {
		s.api = NewAPI(APIArgs{
			Config:        s.cfg,
			Categories:    s.categories,
			MonitorLoader: s.monitorLoader,
			Events:        s.events,
		})
	} else {
		dbpoll.Debug("API disabled")
	}

	event.Sendf(event.BOOT_SUCCESS, "booted in %s, loaded %d instances", time.Since(startTs), s.monitorLoader.Count())
	return nil // ok to call Run
}

// Run starts all monitors and the API, then blocks until stopChan is closed
// or the process catches SIGINT or SIGTERM. It stops all monitors before
// returning. doneChan is closed on return. If --boot-check was given, Run
// returns immediately.
func (s *Server) Run(stopChan, doneChan chan struct{}) error {
	defer close(doneChan)

	if s.cmdline.Options.BootCheck {
		return nil
	}
	event.Send(event.SERVER_RUN)

	stopReason := "unknown"
	defer func() {
		event.Sendf(event.SERVER_STOPPED, "%s", stopReason)
	}()

	status.Server("server", "starting monitors")
	s.monitorLoader.StartMonitors()

	// Run API, restart on panic
	if s.api != nil {
		go func() {
			for {
				stopped := make(chan struct{})
				go func() {
					defer close(stopped)
					defer func() {
						if r := recover(); r != nil {
							b := make([]byte, 4096)
							n := runtime.Stack(b, false)
							event.Errorf(event.SERVER_API_PANIC, "PANIC: server API: %s\n%s", r, string(b[0:n]))
						}
					}()
					s.api.Run()
				}()
				<-stopped
				if s.api.Stopped() {
					return
				}
				time.Sleep(1 * time.Second) // between panic
			}
		}()
	}

	status.Server("server", "running since %s", dbpoll.FormatTime(time.Now()))
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalChan)
	select {
	case <-stopChan:
		stopReason = "server stopped"
	case sig := <-signalChan:
		stopReason = fmt.Sprintf("caught signal %s", sig)
	}

	status.Server("server", "stopping: %s", stopReason)
	s.monitorLoader.CloseMonitors()
	if s.api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.api.Shutdown(ctx)
	}
	return nil
}

// MonitorLoader returns the monitor loader made in Boot.
func (s *Server) MonitorLoader() *monitor.Loader {
	return s.monitorLoader
}

// API returns the API made in Boot, or nil if the API is disabled.
func (s *Server) API() *API {
	return s.api
}
