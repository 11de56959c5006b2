// Copyright 2024 Block, Inc.

package monitor

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v2"

	"github.com/dbpoll/dbpoll"
	"github.com/dbpoll/dbpoll/dbconn"
	"github.com/dbpoll/dbpoll/event"
	"github.com/dbpoll/dbpoll/sink"
)

// LoadFunc loads instance configs. When set in LoaderArgs.LoadInstances, it
// replaces the built-in sources.
type LoadFunc func(context.Context, dbpoll.Config) ([]dbpoll.ConfigInstance, error)

// InstanceSource is a source of instance configs, like aws.RDSLoader.
type InstanceSource interface {
	Load(context.Context, dbpoll.Config) ([]dbpoll.ConfigInstance, error)
}

type LoaderArgs struct {
	Config        dbpoll.Config
	Categories    []dbpoll.Category
	DbFactory     dbconn.Factory
	RDSLoader     InstanceSource                   // used if instance-loader.aws.regions set
	LoadInstances LoadFunc                         // optional
	StartMonitor  func(dbpoll.ConfigInstance) bool // optional, return false to not start
	DeriveMetrics DeriveMetricsFunc                // optional
}

// Changes are the monitors added, removed, and changed by Loader.Load.
type Changes struct {
	Added   []*Monitor
	Removed []*Monitor
	Changed []*Monitor
}

// Loader makes a Monitor for every instance. Instances are loaded, in order,
// from config.instances, instance-loader.files, and the AWS RDS API. An
// instance loaded later with the same name replaces an earlier one. An
// instance with an invalid config is reported and skipped.
type Loader struct {
	cfg           dbpoll.Config
	categories    []dbpoll.Category
	dbFactory     dbconn.Factory
	rdsLoader     InstanceSource
	loadInstances LoadFunc
	startMonitor  func(dbpoll.ConfigInstance) bool
	deriveMetrics DeriveMetricsFunc
	// --
	monitors map[string]*Monitor // keyed on monitorId
	*sync.Mutex
}

func NewLoader(args LoaderArgs) *Loader {
	return &Loader{
		cfg:           args.Config,
		categories:    args.Categories,
		dbFactory:     args.DbFactory,
		rdsLoader:     args.RDSLoader,
		loadInstances: args.LoadInstances,
		startMonitor:  args.StartMonitor,
		deriveMetrics: args.DeriveMetrics,
		// --
		monitors: map[string]*Monitor{},
		Mutex:    &sync.Mutex{},
	}
}

// Load loads all instances and makes, replaces, or removes monitors. It does
// not start new monitors; call StartMonitors.
func (ml *Loader) Load(ctx context.Context) (Changes, error) {
	event.Send(event.INSTANCE_LOADER_LOADING)

	ch := Changes{
		Added:   []*Monitor{},
		Removed: []*Monitor{},
		Changed: []*Monitor{},
	}

	instances := map[string]dbpoll.ConfigInstance{}
	if ml.loadInstances != nil {
		dbpoll.Debug("call LoadInstances")
		loaded, err := ml.loadInstances(ctx, ml.cfg)
		if err != nil {
			return ch, err
		}
		ml.merge(loaded, instances)
	} else {
		// First, instances from the config file
		ml.merge(ml.cfg.Instances, instances)

		// Second, instances from instance files
		loaded, err := ml.loadFiles()
		if err != nil {
			return ch, err
		}
		ml.merge(loaded, instances)

		// Third, instances from the AWS RDS API
		if len(ml.cfg.InstanceLoader.AWS.Regions) > 0 && ml.rdsLoader != nil {
			loaded, err = ml.rdsLoader.Load(ctx, ml.cfg)
			if err != nil {
				return ch, fmt.Errorf("aws: %w", err)
			}
			ml.merge(loaded, instances)
		}
	}

	ml.Lock()
	defer ml.Unlock()

	// Make new monitors, swap changed monitors, keep existing/same monitors
	for monitorId, cfg := range instances {
		old := ml.monitors[monitorId]
		if old != nil && hash(cfg) == hash(old.Config()) {
			continue // no change
		}
		newMonitor, err := ml.makeMonitor(cfg)
		if err != nil {
			event.Errorf(event.INSTANCE_CONFIG_ERROR, "%s: %s", monitorId, err)
			if old != nil {
				// Config changed but is now invalid: remove old monitor
				old.Close()
				delete(ml.monitors, monitorId)
				ch.Removed = append(ch.Removed, old)
			}
			continue
		}
		if old == nil {
			ch.Added = append(ch.Added, newMonitor)
		} else {
			// Close before the swap: Stop removes status by monitor ID
			old.Close()
			ch.Changed = append(ch.Changed, old)
		}
		ml.monitors[monitorId] = newMonitor
	}

	// Stop and remove monitors for instances that no longer exist
	for monitorId, old := range ml.monitors {
		if _, ok := instances[monitorId]; ok {
			continue
		}
		old.Close()
		ch.Removed = append(ch.Removed, old)
		delete(ml.monitors, monitorId)
	}

	event.Sendf(event.INSTANCE_LOADER_LOADED, "added: %d removed: %d changed: %d",
		len(ch.Added), len(ch.Removed), len(ch.Changed))
	return ch, nil
}

// merge applies defaults to each loaded instance and saves it by name.
// Values from cli-ini are applied before config defaults, so a DSN alias
// takes precedence over db2.host and db2.user.
func (ml *Loader) merge(loaded []dbpoll.ConfigInstance, instances map[string]dbpoll.ConfigInstance) {
	for _, in := range loaded {
		in.CLIIni = dbpoll.SetOrDefault(in.CLIIni, ml.cfg.DB2.CLIIni)
		in.InterpolateEnvVars()
		if err := dbconn.ApplyCLIIni(&in); err != nil {
			event.Errorf(event.INSTANCE_CONFIG_ERROR, "%s: %s", in.Name, err)
			continue
		}
		in.ApplyDefaults(ml.cfg)
		in.SetBuiltinDefaults()
		if in.Name == "" {
			event.Errorf(event.INSTANCE_CONFIG_ERROR, "instance %s@%s/%s: name not set", in.User, in.Host, in.Database)
			continue
		}
		instances[in.Name] = in
	}
}

func (ml *Loader) makeMonitor(cfg dbpoll.ConfigInstance) (*Monitor, error) {
	sinks := []dbpoll.Sink{}
	names := make([]string, 0, len(cfg.Sinks))
	for name := range cfg.Sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s, err := sink.Make(name, cfg.Name, cfg.Sinks[name], cfg.Tags)
		if err != nil {
			return nil, fmt.Errorf("sink %s: %w", name, err)
		}
		sinks = append(sinks, s)
		dbpoll.Debug("%s sends to %s", cfg.Name, name)
	}
	if len(sinks) == 0 {
		s, err := sink.Make(sink.DEFAULT_SINK, cfg.Name, nil, cfg.Tags)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}

	return NewMonitor(MonitorArgs{
		Config:        cfg,
		Categories:    ml.categories,
		DbFactory:     ml.dbFactory,
		Sinks:         sinks,
		DeriveMetrics: ml.deriveMetrics,
	})
}

// hash hashes the YAML of v, not %v, which prints pointer addresses.
func hash(v interface{}) [sha256.Size]byte {
	bytes, err := yaml.Marshal(v)
	if err != nil {
		bytes = []byte(fmt.Sprintf("%v", v))
	}
	return sha256.Sum256(bytes)
}

type instanceFile struct {
	Instances []dbpoll.ConfigInstance `yaml:"instances"`
}

// loadFiles loads instance-loader.files. Each file is a glob pattern of YAML
// files that list instances like config.instances.
func (ml *Loader) loadFiles() ([]dbpoll.ConfigInstance, error) {
	instances := []dbpoll.ConfigInstance{}
	for _, pattern := range ml.cfg.InstanceLoader.Files {
		files, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("instance file %s: %w", pattern, err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("instance file %s: no such file", pattern)
		}
		for _, file := range files {
			bytes, err := os.ReadFile(file)
			if err != nil {
				return nil, err
			}
			var f instanceFile
			if err := yaml.Unmarshal(bytes, &f); err != nil {
				return nil, fmt.Errorf("cannot decode YAML in %s: %s", file, err)
			}
			dbpoll.Debug("%s: %d instances", file, len(f.Instances))
			instances = append(instances, f.Instances...)
		}
	}
	return instances, nil
}

// StartMonitors starts every monitor not already running, unless the
// StartMonitor callback returns false for the instance.
func (ml *Loader) StartMonitors() {
	for _, m := range ml.Monitors() {
		if m.Running() {
			continue
		}
		if ml.startMonitor != nil && !ml.startMonitor(m.Config()) {
			dbpoll.Debug("%s: not started", m.MonitorId())
			continue
		}
		if err := m.Start(); err != nil {
			event.Errorf(event.INSTANCE_LOADER_ERROR, "%s: %s", m.MonitorId(), err)
		}
	}
}

// StopMonitors stops all monitors.
func (ml *Loader) StopMonitors() {
	var wg sync.WaitGroup
	for _, m := range ml.Monitors() {
		wg.Add(1)
		go func(m *Monitor) {
			defer wg.Done()
			m.Stop()
		}(m)
	}
	wg.Wait()
}

// CloseMonitors closes all monitors and their sinks. Monitors cannot be
// restarted after, so it is called only on shutdown.
func (ml *Loader) CloseMonitors() {
	var wg sync.WaitGroup
	for _, m := range ml.Monitors() {
		wg.Add(1)
		go func(m *Monitor) {
			defer wg.Done()
			m.Close()
		}(m)
	}
	wg.Wait()
}

// Monitors returns all monitors sorted by monitor ID.
func (ml *Loader) Monitors() []*Monitor {
	ml.Lock()
	defer ml.Unlock()
	monitors := make([]*Monitor, 0, len(ml.monitors))
	for _, m := range ml.monitors {
		monitors = append(monitors, m)
	}
	sort.Slice(monitors, func(i, j int) bool { return monitors[i].monitorId < monitors[j].monitorId })
	return monitors
}

// Monitor returns the monitor for the instance, or nil.
func (ml *Loader) Monitor(monitorId string) *Monitor {
	ml.Lock()
	defer ml.Unlock()
	return ml.monitors[monitorId]
}

// Count returns the number of monitors.
func (ml *Loader) Count() int {
	ml.Lock()
	defer ml.Unlock()
	return len(ml.monitors)
}

type printInstances struct {
	Instances []dbpoll.ConfigInstance `yaml:"instances"`
}

// Print returns the config of all monitors as YAML, without passwords.
func (ml *Loader) Print() string {
	monitors := ml.Monitors()
	p := printInstances{Instances: make([]dbpoll.ConfigInstance, len(monitors))}
	for i := range monitors {
		p.Instances[i] = monitors[i].Config().Redacted()
	}
	bytes, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Sprintf("# error: %s", err)
	}
	return string(bytes)
}
