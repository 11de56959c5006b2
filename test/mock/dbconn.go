package mock

import (
	"database/sql"

	"github.com/dbpoll/dbpoll"
)

// DbFactory is a mock dbconn.Factory. Tests usually return *sql.DB made by
// go-sqlmock from MakeFunc.
type DbFactory struct {
	MakeFunc func(cfg dbpoll.ConfigInstance) (*sql.DB, string, error)
}

func (f DbFactory) Make(cfg dbpoll.ConfigInstance) (*sql.DB, string, error) {
	if f.MakeFunc != nil {
		return f.MakeFunc(cfg)
	}
	return nil, "", nil
}
