// Copyright 2024 Block, Inc.

// Package query runs category SQL and shapes the result into raw metric values.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dbpoll/dbpoll"
	"github.com/dbpoll/dbpoll/event"
	"github.com/dbpoll/dbpoll/sqlutil"
)

// Identity columns of set-shaped categories: the first column of every row
// names the entity. Case-insensitive.
var identityColumns = map[string]bool{
	"tbsp_name":  true, // tablespace
	"bp_name":    true, // bufferpool
	"standby_id": true, // HADR standby
}

// IdentityColumn returns true if col is a recognized set identity column.
func IdentityColumn(col string) bool {
	return identityColumns[strings.ToLower(col)]
}

// Queryer is satisfied by *sql.DB and *sql.Conn.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Runner runs category queries for one monitor.
type Runner struct {
	event event.MonitorReceiver
}

func NewRunner(monitorId string) Runner {
	return Runner{
		event: event.MonitorReceiver{MonitorId: monitorId},
	}
}

// Run executes query and returns its values keyed "category/column", or
// "category_<id>/column" for set shape where id is the identity column value.
// Column names are lowercased. Values that are NULL or not numeric after
// normalization are dropped.
//
// The returned map is never nil. On query error, it is empty and the error is
// returned so the caller can check for connection loss; the error has already
// been reported.
func (r Runner) Run(ctx context.Context, q Queryer, category, query, shape string) (map[string]float64, error) {
	values := map[string]float64{}

	if shape != dbpoll.SHAPE_ROW && shape != dbpoll.SHAPE_SET {
		r.event.Errorf(event.QUERY_ERROR, "%s: invalid result shape: %s", category, shape)
		return values, nil
	}

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		r.event.Errorf(event.QUERY_ERROR, "%s: %s", category, err)
		return values, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.event.Errorf(event.QUERY_CLOSE_ERROR, "%s: %s", category, err)
		}
	}()

	cols, err := rows.Columns()
	if err != nil {
		r.event.Errorf(event.QUERY_ERROR, "%s: %s", category, err)
		return values, err
	}
	if len(cols) == 0 {
		return values, nil
	}
	s := sqlutil.NewScanner(len(cols))

	switch shape {
	case dbpoll.SHAPE_ROW:
		if !rows.Next() {
			break
		}
		vals, err := s.Scan(rows)
		if err != nil {
			r.event.Errorf(event.QUERY_ERROR, "%s: %s", category, err)
			return map[string]float64{}, err
		}
		r.set(values, category, cols, vals)
	case dbpoll.SHAPE_SET:
		if !IdentityColumn(cols[0]) {
			r.event.Sendf(event.QUERY_UNKNOWN_SET, "%s: first column %s is not an identity column", category, cols[0])
			return values, nil
		}
		for rows.Next() {
			vals, err := s.Scan(rows)
			if err != nil {
				r.event.Errorf(event.QUERY_ERROR, "%s: %s", category, err)
				return map[string]float64{}, err
			}
			id := strings.TrimSpace(vals[0].String)
			if !vals[0].Valid || id == "" {
				dbpoll.Debug("%s: NULL or empty %s, row skipped", category, cols[0])
				continue
			}
			r.set(values, category+"_"+id, cols[1:], vals[1:])
		}
	}

	if err := rows.Err(); err != nil {
		r.event.Errorf(event.QUERY_ERROR, "%s: %s", category, err)
		return map[string]float64{}, err
	}

	return values, nil
}

func (r Runner) set(values map[string]float64, prefix string, cols []string, vals []sql.NullString) {
	for i, col := range cols {
		key := fmt.Sprintf("%s/%s", prefix, strings.ToLower(col))
		if !vals[i].Valid {
			continue
		}
		f, ok := sqlutil.Float64(vals[i].String)
		if !ok {
			dbpoll.Debug("%s: dropped non-numeric value %q", key, vals[i].String)
			continue
		}
		values[key] = f
	}
}
