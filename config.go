// Copyright 2024 Block, Inc.

package dbpoll

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	ENV_DEBUG = "DBPOLL_DEBUG"

	DEFAULT_CONFIG_FILE     = "dbpoll.yaml"
	DEFAULT_CATEGORIES_FILE = "metric.category.json"

	DEFAULT_HOST            = "localhost:50000"
	DEFAULT_METRICS         = "overview"
	DEFAULT_DIALECT         = "db2"
	DEFAULT_FREQ            = "60s"
	DEFAULT_TIMEOUT_CONNECT = "5s"
)

var envvar = regexp.MustCompile(`\${([\w_.-]+)(?:(\:\-)([\w_.-]*))?}`)

func interpolateEnv(v string) string {
	if !strings.Contains(v, "${") {
		return v
	}
	m := envvar.FindStringSubmatch(v)
	if len(m) != 4 {
		return v
	}
	v2 := os.Getenv(m[1])
	if v2 == "" && m[2] != "" {
		return m[3]
	}
	return envvar.ReplaceAllLiteralString(v, v2)
}

func setBool(c *bool, b *bool) *bool {
	if c == nil && b != nil {
		c = new(bool)
		*c = *b
	}
	return c
}

// LoadConfig loads the YAML config file into cfg, which should be the default
// config. If required is false and the file does not exist, cfg is returned
// unchanged.
func LoadConfig(filePath string, cfg Config, required bool) (Config, error) {
	file, err := filepath.Abs(filePath)
	if err != nil {
		return Config{}, err
	}
	Debug("config file: %s (%s)", filePath, file)

	if _, err := os.Stat(file); err != nil {
		if required {
			return Config{}, fmt.Errorf("config file %s does not exist", filePath)
		}
		Debug("config file doesn't exist")
		return cfg, nil
	}

	bytes, err := os.ReadFile(file)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read config file: %s", err)
	}

	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return cfg, fmt.Errorf("cannot decode YAML in %s: %s", file, err)
	}

	return cfg, nil
}

// Config represents the dbpoll startup configuration.
type Config struct {
	//
	// Server
	//
	API            ConfigAPI            `yaml:"api,omitempty"`
	HTTP           ConfigHTTP           `yaml:"http,omitempty"`
	Categories     string               `yaml:"categories,omitempty"`
	InstanceLoader ConfigInstanceLoader `yaml:"instance-loader,omitempty"`

	//
	// Defaults for instances
	//
	AWS   ConfigAWS         `yaml:"aws,omitempty"`
	DB2   ConfigDB2         `yaml:"db2,omitempty"`
	Sinks ConfigSinks       `yaml:"sinks,omitempty"`
	Tags  map[string]string `yaml:"tags,omitempty"`

	Instances []ConfigInstance `yaml:"instances,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		API:            DefaultConfigAPI(),
		Categories:     DEFAULT_CATEGORIES_FILE,
		InstanceLoader: DefaultConfigInstanceLoader(),

		AWS:   DefaultConfigAWS(),
		DB2:   DefaultConfigDB2(),
		Sinks: DefaultConfigSinks(),
		Tags:  map[string]string{},

		Instances: []ConfigInstance{},
	}
}

func (c Config) Validate() error {
	if err := c.API.Validate(); err != nil {
		return err
	}
	if err := c.DB2.Validate(); err != nil {
		return err
	}
	if err := c.InstanceLoader.Validate(); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, in := range c.Instances {
		if in.Name == "" {
			continue // caught by ConfigInstance.Validate
		}
		if seen[in.Name] {
			return fmt.Errorf("%w: duplicate instance name: %s", ErrConfig, in.Name)
		}
		seen[in.Name] = true
	}
	return nil
}

func (c *Config) InterpolateEnvVars() {
	for k, v := range c.Tags {
		c.Tags[k] = interpolateEnv(v)
	}
	c.Categories = interpolateEnv(c.Categories)

	c.API.InterpolateEnvVars()
	c.HTTP.InterpolateEnvVars()
	c.InstanceLoader.InterpolateEnvVars()
	c.AWS.InterpolateEnvVars()
	c.DB2.InterpolateEnvVars()
	c.Sinks.InterpolateEnvVars()
}

// Redacted returns a copy of the config without passwords or sink secrets.
// It is safe to print.
func (c Config) Redacted() Config {
	if c.DB2.Password != "" {
		c.DB2.Password = "..."
	}
	c.Sinks = c.Sinks.Redacted()
	instances := make([]ConfigInstance, len(c.Instances))
	for i := range c.Instances {
		instances[i] = c.Instances[i].Redacted()
	}
	c.Instances = instances
	return c
}

// ///////////////////////////////////////////////////////////////////////////
// Server
// ///////////////////////////////////////////////////////////////////////////

type ConfigAPI struct {
	Bind    string `yaml:"bind"`
	Disable bool   `yaml:"disable,omitempty"`
}

const (
	DEFAULT_API_BIND = "127.0.0.1:9080"
)

func DefaultConfigAPI() ConfigAPI {
	return ConfigAPI{
		Bind: DEFAULT_API_BIND,
	}
}

func (c ConfigAPI) Validate() error {
	if !c.Disable && c.Bind == "" {
		return fmt.Errorf("%w: api.bind not set (set api.disable to disable the API)", ErrConfig)
	}
	return nil
}

func (c *ConfigAPI) InterpolateEnvVars() {
	c.Bind = interpolateEnv(c.Bind)
}

// --------------------------------------------------------------------------

type ConfigHTTP struct {
	Proxy string `yaml:"proxy,omitempty"`
}

func (c *ConfigHTTP) InterpolateEnvVars() {
	c.Proxy = interpolateEnv(c.Proxy)
}

// --------------------------------------------------------------------------

type ConfigInstanceLoader struct {
	Files []string                `yaml:"files,omitempty"`
	AWS   ConfigInstanceLoaderAWS `yaml:"aws,omitempty"`
}

type ConfigInstanceLoaderAWS struct {
	Regions []string `yaml:"regions,omitempty"`
}

func DefaultConfigInstanceLoader() ConfigInstanceLoader {
	return ConfigInstanceLoader{}
}

func (c ConfigInstanceLoader) Validate() error {
	return nil
}

func (c *ConfigInstanceLoader) InterpolateEnvVars() {
	for i := range c.Files {
		c.Files[i] = interpolateEnv(c.Files[i])
	}
	for i := range c.AWS.Regions {
		c.AWS.Regions[i] = interpolateEnv(c.AWS.Regions[i])
	}
}

// ///////////////////////////////////////////////////////////////////////////
// Instance
// ///////////////////////////////////////////////////////////////////////////

// ConfigInstance is the config for one database instance. It is the input
// to monitor.NewAgent, which requires name, database, user, and a password
// source.
type ConfigInstance struct {
	Name           string `yaml:"name"`
	Host           string `yaml:"host,omitempty"`
	Database       string `yaml:"database,omitempty"`
	User           string `yaml:"user,omitempty"`
	Password       string `yaml:"password,omitempty"`
	PasswordFile   string `yaml:"password-file,omitempty"`
	Properties     string `yaml:"properties,omitempty"`
	Metrics        string `yaml:"metrics,omitempty"`
	Dialect        string `yaml:"dialect,omitempty"`
	Freq           string `yaml:"freq,omitempty"`
	TimeoutConnect string `yaml:"timeout-connect,omitempty"`
	CLIIni         string `yaml:"cli-ini,omitempty"`
	DSNAlias       string `yaml:"dsn-alias,omitempty"`

	// Tags are passed to each sink. Tags inherit from config.tags, but
	// instance tags take precedence.
	Tags map[string]string `yaml:"tags,omitempty"`

	AWS   ConfigAWS   `yaml:"aws,omitempty"`
	Sinks ConfigSinks `yaml:"sinks,omitempty"`
}

// Validate returns an error wrapping ErrConfig if a required parameter is
// missing: name, database, user, and a password source.
func (c ConfigInstance) Validate() error {
	if c.Name == "" {
		return ErrMissingParam{Param: "name"}
	}
	if c.Database == "" {
		return ErrMissingParam{Instance: c.Name, Param: "database"}
	}
	if c.User == "" {
		return ErrMissingParam{Instance: c.Name, Param: "user"}
	}
	if c.Password == "" && c.PasswordFile == "" && c.AWS.PasswordSecret == "" && !True(c.AWS.AuthToken) {
		return ErrMissingParam{Instance: c.Name, Param: "password"}
	}
	if c.Freq != "" {
		if _, err := time.ParseDuration(c.Freq); err != nil {
			return fmt.Errorf("%w: instance %s: invalid freq %s: %s", ErrConfig, c.Name, c.Freq, err)
		}
	}
	if c.TimeoutConnect != "" {
		if _, err := time.ParseDuration(c.TimeoutConnect); err != nil {
			return fmt.Errorf("%w: instance %s: invalid timeout-connect %s: %s", ErrConfig, c.Name, c.TimeoutConnect, err)
		}
	}
	return nil
}

// ApplyDefaults sets instance values from the top-level config defaults (b)
// if not set in the instance.
func (c *ConfigInstance) ApplyDefaults(b Config) {
	if c.Host == "" {
		c.Host = b.DB2.Host
	}
	if c.User == "" {
		c.User = b.DB2.User
	}
	if c.Password == "" {
		c.Password = b.DB2.Password
	}
	if c.PasswordFile == "" {
		c.PasswordFile = b.DB2.PasswordFile
	}
	if c.Properties == "" {
		c.Properties = b.DB2.Properties
	}
	if c.Metrics == "" {
		c.Metrics = b.DB2.Metrics
	}
	if c.Dialect == "" {
		c.Dialect = b.DB2.Dialect
	}
	if c.Freq == "" {
		c.Freq = b.DB2.Freq
	}
	if c.TimeoutConnect == "" {
		c.TimeoutConnect = b.DB2.TimeoutConnect
	}
	if c.CLIIni == "" {
		c.CLIIni = b.DB2.CLIIni
	}

	if c.Tags == nil {
		c.Tags = map[string]string{}
	}
	for bk, bv := range b.Tags {
		if _, ok := c.Tags[bk]; ok {
			continue
		}
		c.Tags[bk] = bv
	}

	if c.Sinks == nil {
		c.Sinks = ConfigSinks{}
	}
	c.AWS.ApplyDefaults(b)
	c.Sinks.ApplyDefaults(b)
}

// SetBuiltinDefaults sets built-in defaults for values that are still empty
// after ApplyDefaults: host, metrics, dialect, freq, and timeout-connect.
func (c *ConfigInstance) SetBuiltinDefaults() {
	c.Host = SetOrDefault(c.Host, DEFAULT_HOST)
	c.Metrics = SetOrDefault(c.Metrics, DEFAULT_METRICS)
	c.Dialect = SetOrDefault(c.Dialect, DEFAULT_DIALECT)
	c.Freq = SetOrDefault(c.Freq, DEFAULT_FREQ)
	c.TimeoutConnect = SetOrDefault(c.TimeoutConnect, DEFAULT_TIMEOUT_CONNECT)
}

func (c *ConfigInstance) InterpolateEnvVars() {
	c.Name = interpolateEnv(c.Name)
	c.Host = interpolateEnv(c.Host)
	c.Database = interpolateEnv(c.Database)
	c.User = interpolateEnv(c.User)
	c.Password = interpolateEnv(c.Password)
	c.PasswordFile = interpolateEnv(c.PasswordFile)
	c.Properties = interpolateEnv(c.Properties)
	c.Metrics = interpolateEnv(c.Metrics)
	c.Dialect = interpolateEnv(c.Dialect)
	c.Freq = interpolateEnv(c.Freq)
	c.TimeoutConnect = interpolateEnv(c.TimeoutConnect)
	c.CLIIni = interpolateEnv(c.CLIIni)
	c.DSNAlias = interpolateEnv(c.DSNAlias)
	for k, v := range c.Tags {
		c.Tags[k] = interpolateEnv(v)
	}
	c.AWS.InterpolateEnvVars()
	c.Sinks.InterpolateEnvVars()
}

// EnabledCategories returns the comma-separated metrics list as category
// names: lowercased, spaces removed, empty names skipped.
func (c ConfigInstance) EnabledCategories() []string {
	return ParseList(c.Metrics)
}

// Redacted returns a copy of the config without any password. It is safe
// to print.
func (c ConfigInstance) Redacted() ConfigInstance {
	if c.Password != "" {
		c.Password = "..."
	}
	c.Sinks = c.Sinks.Redacted()
	return c
}

// --------------------------------------------------------------------------

// ConfigDB2 are instance defaults. Despite the name, they apply to every
// dialect.
type ConfigDB2 struct {
	Host           string `yaml:"host,omitempty"`
	User           string `yaml:"user,omitempty"`
	Password       string `yaml:"password,omitempty"`
	PasswordFile   string `yaml:"password-file,omitempty"`
	Properties     string `yaml:"properties,omitempty"`
	Metrics        string `yaml:"metrics,omitempty"`
	Dialect        string `yaml:"dialect,omitempty"`
	Freq           string `yaml:"freq,omitempty"`
	TimeoutConnect string `yaml:"timeout-connect,omitempty"`
	CLIIni         string `yaml:"cli-ini,omitempty"`
}

func DefaultConfigDB2() ConfigDB2 {
	return ConfigDB2{
		Host:           DEFAULT_HOST,
		Metrics:        DEFAULT_METRICS,
		Dialect:        DEFAULT_DIALECT,
		Freq:           DEFAULT_FREQ,
		TimeoutConnect: DEFAULT_TIMEOUT_CONNECT,
	}
}

func (c ConfigDB2) Validate() error {
	if c.Freq != "" {
		if _, err := time.ParseDuration(c.Freq); err != nil {
			return fmt.Errorf("%w: db2.freq %s: %s", ErrConfig, c.Freq, err)
		}
	}
	return nil
}

func (c *ConfigDB2) InterpolateEnvVars() {
	c.Host = interpolateEnv(c.Host)
	c.User = interpolateEnv(c.User)
	c.Password = interpolateEnv(c.Password)
	c.PasswordFile = interpolateEnv(c.PasswordFile)
	c.Properties = interpolateEnv(c.Properties)
	c.Metrics = interpolateEnv(c.Metrics)
	c.Dialect = interpolateEnv(c.Dialect)
	c.Freq = interpolateEnv(c.Freq)
	c.TimeoutConnect = interpolateEnv(c.TimeoutConnect)
	c.CLIIni = interpolateEnv(c.CLIIni)
}

// --------------------------------------------------------------------------

type ConfigAWS struct {
	AuthToken         *bool  `yaml:"auth-token,omitempty"`
	PasswordSecret    string `yaml:"password-secret,omitempty"`
	Region            string `yaml:"region,omitempty"`
	DisableAutoRegion *bool  `yaml:"disable-auto-region,omitempty"`
}

func DefaultConfigAWS() ConfigAWS {
	return ConfigAWS{}
}

func (c *ConfigAWS) ApplyDefaults(b Config) {
	if c.PasswordSecret == "" {
		c.PasswordSecret = b.AWS.PasswordSecret
	}
	if c.Region == "" {
		c.Region = b.AWS.Region
	}
	c.AuthToken = setBool(c.AuthToken, b.AWS.AuthToken)
	c.DisableAutoRegion = setBool(c.DisableAutoRegion, b.AWS.DisableAutoRegion)
}

func (c *ConfigAWS) InterpolateEnvVars() {
	c.PasswordSecret = interpolateEnv(c.PasswordSecret)
	c.Region = interpolateEnv(c.Region)
}

// --------------------------------------------------------------------------

// ConfigSinks maps sink name to sink options.
type ConfigSinks map[string]map[string]string

func DefaultConfigSinks() ConfigSinks {
	return ConfigSinks{}
}

func (c ConfigSinks) ApplyDefaults(b Config) {
	for bk, bv := range b.Sinks {
		if c[bk] != nil {
			continue
		}
		c[bk] = map[string]string{}
		for k, v := range bv {
			c[bk][k] = v
		}
	}
}

func (c ConfigSinks) InterpolateEnvVars() {
	for _, opts := range c {
		for k, v := range opts {
			opts[k] = interpolateEnv(v)
		}
	}
}

var secretOpt = regexp.MustCompile(`(auth|key|token|password)$`)

// Redacted returns a copy with secret sink options, like api-key-auth,
// replaced by "...". Options that name a file, like api-key-auth-file, are
// kept.
func (c ConfigSinks) Redacted() ConfigSinks {
	if c == nil {
		return nil
	}
	r := make(ConfigSinks, len(c))
	for name, opts := range c {
		r[name] = make(map[string]string, len(opts))
		for k, v := range opts {
			if v != "" && secretOpt.MatchString(k) {
				v = "..."
			}
			r[name][k] = v
		}
	}
	return r
}
