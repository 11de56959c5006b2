// Copyright 2024 Block, Inc.

package dbconn

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/dbpoll/dbpoll"
)

// Dialect is what the Manager and Factory need to know about one database
// product: its driver, probe statement, version query, and DSN format.
type Dialect struct {
	Name         string
	Driver       string
	Ping         string
	VersionQuery string
	DefaultPort  string

	dsn      func(cfg dbpoll.ConfigInstance, addr, password string) string
	redacted func(dsn string) string
}

var dialects = map[string]Dialect{
	"db2": {
		Name:         "db2",
		Driver:       "go_ibm_db",
		Ping:         "SELECT 1 FROM sysibm.sysdummy1",
		VersionQuery: "SELECT service_level FROM TABLE(sysproc.env_get_inst_info())",
		DefaultPort:  "50000",
		dsn:          db2DSN,
		redacted:     db2Redacted,
	},
	"mysql": {
		Name:         "mysql",
		Driver:       "mysql-hotswap-dsn",
		Ping:         "SELECT 1",
		VersionQuery: "SELECT @@version",
		DefaultPort:  "3306",
		dsn:          mysqlDSN,
		redacted:     mysqlRedacted,
	},
	"postgres": {
		Name:         "postgres",
		Driver:       "pgx",
		Ping:         "SELECT 1",
		VersionQuery: "SHOW server_version",
		DefaultPort:  "5432",
		dsn:          postgresDSN,
		redacted:     postgresRedacted,
	},
}

// GetDialect returns the named dialect: db2, mysql, or postgres. An empty
// name is the default dialect, db2.
func GetDialect(name string) (Dialect, error) {
	if name == "" {
		name = dbpoll.DEFAULT_DIALECT
	}
	d, ok := dialects[strings.ToLower(name)]
	if !ok {
		return Dialect{}, fmt.Errorf("%w: invalid dialect: %s (valid: db2, mysql, postgres)", dbpoll.ErrConfig, name)
	}
	return d, nil
}

// Addr returns host:port, adding the dialect default port if host has none.
func (d Dialect) Addr(host string) string {
	if host == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, d.DefaultPort)
}

// DSN returns the driver DSN for the instance. The DSN contains the password;
// use RedactedDSN to print it.
func (d Dialect) DSN(cfg dbpoll.ConfigInstance, password string) string {
	return d.dsn(cfg, d.Addr(cfg.Host), password)
}

// RedactedDSN returns the DSN with the password replaced by "...".
func (d Dialect) RedactedDSN(dsn string) string {
	return d.redacted(dsn)
}

// Properties parses "key=value;key=value" connection properties. Empty
// pairs are ignored. Keys without a value map to "".
func Properties(s string) map[string]string {
	props := map[string]string{}
	for _, kv := range strings.Split(s, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		props[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return props
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --------------------------------------------------------------------------

func db2DSN(cfg dbpoll.ConfigInstance, addr, password string) string {
	host, port, _ := net.SplitHostPort(addr)
	var b strings.Builder
	fmt.Fprintf(&b, "HOSTNAME=%s;PORT=%s;DATABASE=%s;UID=%s;PWD=%s;",
		host, port, db2Value(cfg.Database), db2Value(cfg.User), db2Value(password))
	props := Properties(cfg.Properties)
	for _, k := range sortedKeys(props) {
		fmt.Fprintf(&b, "%s=%s;", k, db2Value(props[k]))
	}
	return b.String()
}

// db2Value returns v enclosed in CLI braces, with "}" doubled, if v has a
// character that would end or corrupt the key=value pair.
func db2Value(v string) string {
	if !strings.ContainsAny(v, ";{}") && strings.TrimSpace(v) == v {
		return v
	}
	return "{" + strings.ReplaceAll(v, "}", "}}") + "}"
}

// Matches a braced value (with doubled "}") or a bare value up to ";".
var db2Password = regexp.MustCompile(`(?i)(PWD=)(\{(?:[^}]|\}\})*\}|[^;]*)`)

func db2Redacted(dsn string) string {
	return db2Password.ReplaceAllString(dsn, "${1}...")
}

func mysqlDSN(cfg dbpoll.ConfigInstance, addr, password string) string {
	my := mysql.NewConfig()
	my.User = cfg.User
	my.Passwd = password
	my.Net = "tcp"
	my.Addr = addr
	my.DBName = cfg.Database
	my.ParseTime = true
	props := Properties(cfg.Properties)
	if len(props) > 0 {
		my.Params = props
	}
	if dbpoll.True(cfg.AWS.AuthToken) {
		my.AllowCleartextPasswords = true
	}
	return my.FormatDSN()
}

func mysqlRedacted(dsn string) string {
	my, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "(invalid DSN)"
	}
	if my.Passwd != "" {
		my.Passwd = "..."
	}
	return my.FormatDSN()
}

func postgresDSN(cfg dbpoll.ConfigInstance, addr, password string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, password),
		Host:   addr,
		Path:   "/" + cfg.Database,
	}
	props := Properties(cfg.Properties)
	if len(props) > 0 {
		q := url.Values{}
		for k, v := range props {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func postgresRedacted(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "(invalid DSN)"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "...")
	}
	return u.String()
}
