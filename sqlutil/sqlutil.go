// Copyright 2022 Block, Inc.

// Package sqlutil provides value normalization and row scanning helpers.
package sqlutil

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	ver "github.com/hashicorp/go-version"

	"github.com/dbpoll/dbpoll/event"
)

// Enumerated states are mapped to numbers by two tables checked in order:
// common switch states, then HADR states. The HADR encoding is defined by
// the database and is not sequential; do not renumber.
var (
	switchStates = []struct{ token, value string }{
		{"ON", "1"},
		{"TRUE", "1"},
		{"OFF", "0"},
		{"NONE", "0"},
		{"YES", "1"},
		{"NO", "0"},
		{"NULL", "-1"},
	}
	hadrStates = []struct{ token, value string }{
		{"DISCONNECTED", "0"},
		{"LOCAL_CATCHUP", "1"},
		{"REMOTE_CATCHUP_PENDING", "3"},
		{"REMOTE_CATCHUP", "4"},
		{"PEER", "5"},
		{"CONNECTED", "1"},
		{"CONGESTED", "2"},
	}
)

// NormalizeToken maps a known textual state (case-insensitive) to its numeric
// string. Any other value is returned unchanged.
func NormalizeToken(raw string) string {
	for _, s := range switchStates {
		if strings.EqualFold(raw, s.token) {
			return s.value
		}
	}
	for _, s := range hadrStates {
		if strings.EqualFold(raw, s.token) {
			return s.value
		}
	}
	return raw
}

var validValue = regexp.MustCompile(`^(-)?(\.)?\d+(\.\d+)?$`)

// ValidMetricValue returns true if s is a signed integer or float literal.
func ValidMetricValue(s string) bool {
	return s != "" && validValue.MatchString(s)
}

// ParseNumber returns s as a float64 after removing spaces. On error, it
// reports the value and returns 0.
func ParseNumber(s string) float64 {
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, " ", ""), 64)
	if err != nil {
		event.Sendf(event.VALUE_PARSE_ERROR, "cannot parse %q: %s", s, err)
		return 0
	}
	return f
}

// Float64 normalizes, validates, and parses a raw column value. It returns
// false if the value is not numeric, in which case the value is dropped.
// Trailing padding from fixed-width CHAR columns is ignored.
func Float64(raw string) (float64, bool) {
	s := NormalizeToken(strings.TrimSpace(raw))
	if !ValidMetricValue(s) {
		return 0, false
	}
	return ParseNumber(s), true
}

// --------------------------------------------------------------------------

// Scanner scans rows of any number of columns into strings.
type Scanner struct {
	vals []sql.NullString
	args []interface{}
}

// NewScanner returns a Scanner for n columns.
func NewScanner(n int) *Scanner {
	s := &Scanner{
		vals: make([]sql.NullString, n),
		args: make([]interface{}, n),
	}
	for i := range s.vals {
		s.args[i] = &s.vals[i]
	}
	return s
}

// Scan scans the current row. The returned slice is reused by the next call.
// SQL NULL values are returned as invalid sql.NullString.
func (s *Scanner) Scan(rows *sql.Rows) ([]sql.NullString, error) {
	for i := range s.vals {
		s.vals[i] = sql.NullString{}
	}
	if err := rows.Scan(s.args...); err != nil {
		return nil, err
	}
	return s.vals, nil
}

// --------------------------------------------------------------------------

var versionNumber = regexp.MustCompile(`\d+(\.\d+)+`)

// ParseVersion parses a server version string like "DB2 v11.5.8.0" or
// "8.0.32-log" into a version.
func ParseVersion(s string) (*ver.Version, error) {
	m := versionNumber.FindString(s)
	if m == "" {
		return nil, fmt.Errorf("no version number in %q", s)
	}
	return ver.NewVersion(m)
}

// Version queries and parses the server version.
func Version(ctx context.Context, db *sql.DB, query string) (*ver.Version, error) {
	var val string
	if err := db.QueryRowContext(ctx, query).Scan(&val); err != nil {
		return nil, err
	}
	return ParseVersion(val)
}

// VersionGTE returns true if v >= min. It returns true if min is empty and
// false if min is invalid.
func VersionGTE(v *ver.Version, min string) (bool, error) {
	if min == "" {
		return true, nil
	}
	target, err := ver.NewVersion(min)
	if err != nil {
		return false, err
	}
	return v.GreaterThanOrEqual(target), nil
}
