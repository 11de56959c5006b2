// Copyright 2024 Block, Inc.

package dbconn

import (
	"fmt"
	"strings"

	"github.com/go-ini/ini"

	"github.com/dbpoll/dbpoll"
)

// ParseCLIIni parses the section named alias in a Db2 db2cli.ini file. It
// returns only host, database, and user. Section and key names are not case
// sensitive, same as the Db2 CLI.
func ParseCLIIni(file, alias string) (dbpoll.ConfigInstance, error) {
	opts := ini.LoadOptions{AllowBooleanKeys: true, Insensitive: true}
	cli, err := ini.LoadSources(opts, file)
	if err != nil {
		return dbpoll.ConfigInstance{}, err
	}

	name := strings.ToLower(alias)
	s, err := cli.GetSection(name)
	if err != nil {
		return dbpoll.ConfigInstance{}, fmt.Errorf("%s: no section [%s]", file, alias)
	}

	// The password is never read from db2cli.ini. It must come from the
	// config, a password file, or a secret.
	cfg := dbpoll.ConfigInstance{
		Database: s.Key("database").String(),
		Host:     s.Key("hostname").String(),
		User:     s.Key("uid").String(),
	}
	if cfg.Database == "" {
		cfg.Database = alias
	}
	port := s.Key("port").String()
	if port == "" {
		port = s.Key("servicename").String()
	}
	if port != "" && cfg.Host != "" {
		cfg.Host += ":" + port
	}
	return cfg, nil
}

// ApplyCLIIni sets host, database, and user from db2cli.ini if cfg.CLIIni is
// set and the values are not already set in cfg.
func ApplyCLIIni(cfg *dbpoll.ConfigInstance) error {
	if cfg.CLIIni == "" {
		return nil
	}
	alias := dbpoll.SetOrDefault(cfg.DSNAlias, cfg.Database)
	if alias == "" {
		return fmt.Errorf("%w: instance %s: cli-ini set without dsn-alias or database", dbpoll.ErrConfig, cfg.Name)
	}
	cli, err := ParseCLIIni(cfg.CLIIni, alias)
	if err != nil {
		return err
	}
	cfg.Host = dbpoll.SetOrDefault(cfg.Host, cli.Host)
	cfg.Database = dbpoll.SetOrDefault(cfg.Database, cli.Database)
	cfg.User = dbpoll.SetOrDefault(cfg.User, cli.User)
	return nil
}
