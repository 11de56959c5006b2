// Copyright 2022 Block, Inc.

package dbconn

import (
	"context"
	"sync"

	dsndriver "github.com/go-mysql/hotswap-dsn-driver"
	"github.com/go-sql-driver/mysql"

	"github.com/dbpoll/dbpoll"
	"github.com/dbpoll/dbpoll/event"
)

func init() {
	dsndriver.SetHotswapFunc(Repo.ReloadDSN)
}

type Credentials struct {
	Username string
	Password string
}

type CredentialFunc func(context.Context) (Credentials, error)

// repo maps MySQL addr (host:port) to the func that returns its current
// credentials. Only the mysql dialect uses it: the hotswap driver calls
// ReloadDSN on auth errors, like when an IAM token or secret is rotated.
type repo struct {
	m *sync.Map
}

var Repo = &repo{
	m: &sync.Map{},
}

func (r *repo) Add(addr string, f CredentialFunc) {
	r.m.Store(addr, f)
	dbpoll.Debug("added %s", addr)
}

func (r *repo) ReloadDSN(ctx context.Context, currentDSN string) string {
	// Return a new DSN only if the credentials changed. An empty string makes
	// the hotswap driver return the original driver error.
	cfg, err := mysql.ParseDSN(currentDSN)
	if err != nil {
		dbpoll.Debug("error parsing DSN: %s", err)
		return ""
	}
	redacted := mysqlRedacted(currentDSN)
	dbpoll.Debug("reloading %s", redacted)

	v, ok := r.m.Load(cfg.Addr)
	if !ok {
		dbpoll.Debug("no credential func for %s", cfg.Addr)
		return ""
	}

	newCred, err := v.(CredentialFunc)(ctx)
	if err != nil {
		event.Sendf(event.DB_RELOAD_PASSWORD_ERROR, "%s: %s", redacted, err.Error())
		return ""
	}

	if cfg.Passwd == newCred.Password && cfg.User == newCred.Username {
		dbpoll.Debug("credentials have not changed")
		return ""
	}

	dbpoll.Debug("credentials reloaded")
	cfg.Passwd = newCred.Password
	cfg.User = newCred.Username
	return cfg.FormatDSN()
}
