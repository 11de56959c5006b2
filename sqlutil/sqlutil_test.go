// Copyright 2024 Block, Inc.

package sqlutil

import (
	"context"
	"math"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbpoll/dbpoll/event"
	"github.com/dbpoll/dbpoll/test/mock"
)

var tokens = map[string]string{
	"ON":                     "1",
	"on":                     "1",
	"True":                   "1",
	"OFF":                    "0",
	"none":                   "0",
	"YES":                    "1",
	"No":                     "0",
	"NULL":                   "-1",
	"DISCONNECTED":           "0",
	"LOCAL_CATCHUP":          "1",
	"REMOTE_CATCHUP_PENDING": "3",
	"remote_catchup":         "4",
	"PEER":                   "5",
	"CONNECTED":              "1",
	"CONGESTED":              "2",
}

func TestNormalizeToken(t *testing.T) {
	for in, expect := range tokens {
		if got := NormalizeToken(in); got != expect {
			t.Errorf("NormalizeToken(%q) = %q, expected %q", in, got, expect)
		}
	}

	// Unknown values are returned unchanged
	for _, in := range []string{"", "42", "3.14", "n/a", "PEERS", "REMOTE"} {
		if got := NormalizeToken(in); got != in {
			t.Errorf("NormalizeToken(%q) = %q, expected input unchanged", in, got)
		}
	}
}

func TestNormalizeTokenIdempotent(t *testing.T) {
	for in := range tokens {
		once := NormalizeToken(in)
		twice := NormalizeToken(once)
		if once != twice {
			t.Errorf("NormalizeToken(NormalizeToken(%q)) = %q, expected %q", in, twice, once)
		}
	}
}

func TestValidMetricValue(t *testing.T) {
	type test struct {
		s  string
		ok bool
	}
	tests := []test{
		{s: "", ok: false},
		{s: "-1", ok: true},
		{s: "3.14", ok: true},
		{s: "abc", ok: false},
		{s: "0", ok: true},
		{s: ".5", ok: true},
		{s: "-.5", ok: true},
		{s: "1e6", ok: false},
		{s: "1.", ok: false},
		{s: "+1", ok: false},
		{s: "1 000", ok: false},
		{s: "12abc", ok: false},
	}
	for _, tt := range tests {
		if got := ValidMetricValue(tt.s); got != tt.ok {
			t.Errorf("ValidMetricValue(%q) = %t, expected %t", tt.s, got, tt.ok)
		}
	}
}

func TestParseNumber(t *testing.T) {
	assert.Equal(t, 42.0, ParseNumber("42"))
	assert.Equal(t, -1.0, ParseNumber("-1"))
	assert.Equal(t, 0.5, ParseNumber(".5"))
	assert.Equal(t, 1000.0, ParseNumber("1 000"))

	// Failure reported as an event, not an error
	var got []event.Event
	event.Subscribe(mock.EventReceiver{RecvFunc: func(e event.Event) { got = append(got, e) }})
	defer event.RemoveSubscribers()

	assert.Equal(t, 0.0, ParseNumber("n/a"))
	require.Len(t, got, 1)
	assert.Equal(t, event.VALUE_PARSE_ERROR, got[0].Event)
}

func TestParseNumberFinite(t *testing.T) {
	// Every value accepted by ValidMetricValue parses to a finite float
	for _, s := range []string{"0", "-1", "3.14", ".5", "-.5", "123456789012345678901234567890", "0.000001"} {
		require.True(t, ValidMetricValue(s), s)
		f := ParseNumber(s)
		if math.IsInf(f, 0) || math.IsNaN(f) {
			t.Errorf("ParseNumber(%q) = %f, expected finite value", s, f)
		}
	}
}

func TestFloat64(t *testing.T) {
	type test struct {
		s  string
		f  float64
		ok bool
	}
	tests := []test{
		{s: "0.0", f: 0, ok: true},
		{s: "1", f: 1.0, ok: true},
		{s: "PEER    ", f: 5, ok: true}, // CHAR padding
		{s: "yes", f: 1, ok: true},
		{s: "NULL", f: -1, ok: true},
		{s: "n/a", f: 0, ok: false},
		{s: "", f: 0, ok: false},
	}
	for _, tt := range tests {
		f, ok := Float64(tt.s)
		if f != tt.f {
			t.Errorf("Float64(%q): got %f, expected %f", tt.s, f, tt.f)
		}
		if ok != tt.ok {
			t.Errorf("Float64(%q): ok=%t, expected ok=%t", tt.s, ok, tt.ok)
		}
	}
}

func TestScanner(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"A", "B"}).
			AddRow("1", nil).
			AddRow(2, "x"),
	)

	rows, err := db.Query("SELECT A, B FROM T")
	require.NoError(t, err)
	defer rows.Close()

	s := NewScanner(2)

	require.True(t, rows.Next())
	vals, err := s.Scan(rows)
	require.NoError(t, err)
	assert.Equal(t, "1", vals[0].String)
	assert.False(t, vals[1].Valid)

	require.True(t, rows.Next())
	vals, err = s.Scan(rows)
	require.NoError(t, err)
	assert.Equal(t, "2", vals[0].String)
	assert.Equal(t, "x", vals[1].String)
	assert.True(t, vals[1].Valid)
}

func TestVersion(t *testing.T) {
	v, err := ParseVersion("DB2 v11.5.8.0")
	require.NoError(t, err)
	assert.Equal(t, "11.5.8.0", v.Original())

	v, err = ParseVersion("8.0.32-log")
	require.NoError(t, err)
	assert.Equal(t, "8.0.32", v.Original())

	_, err = ParseVersion("unknown")
	assert.Error(t, err)

	ok, err := VersionGTE(v, "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VersionGTE(v, "8.0")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VersionGTE(v, "10.5")
	require.NoError(t, err)
	assert.False(t, ok)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	q := "SELECT service_level FROM TABLE(sysproc.env_get_inst_info())"
	mock.ExpectQuery(regexp.QuoteMeta(q)).WillReturnRows(sqlmock.NewRows([]string{"SERVICE_LEVEL"}).AddRow("DB2 v10.5.0.7"))
	v, err = Version(context.Background(), db, q)
	require.NoError(t, err)
	assert.Equal(t, "10.5.0.7", v.Original())
}
