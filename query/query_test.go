// Copyright 2024 Block, Inc.

package query_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-test/deep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbpoll/dbpoll"
	"github.com/dbpoll/dbpoll/query"
)

func TestRunRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Unparsable BOGUS_TEXT is dropped, the rest of the row is kept
	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"TOTAL_APP_COMMITS", "BOGUS_TEXT"}).
			AddRow("42", "n/a").
			AddRow("99", "1"), // ignored: row shape reads only the first row
	).RowsWillBeClosed()

	r := query.NewRunner("db1")
	got, err := r.Run(context.Background(), db, "overview", "SELECT * FROM SYSIBMADM.MON_DB_SUMMARY", dbpoll.SHAPE_ROW)
	require.NoError(t, err)

	expect := map[string]float64{"overview/total_app_commits": 42.0}
	if diff := deep.Equal(got, expect); diff != nil {
		t.Error(diff)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRowNormalize(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"HADR_STATE", "ENABLED", "EMPTY", "MISSING", "RATIO"}).
			AddRow("PEER    ", "yes", "", nil, "-.5"),
	)

	got, err := query.NewRunner("db1").Run(context.Background(), db, "x", "SELECT", dbpoll.SHAPE_ROW)
	require.NoError(t, err)

	expect := map[string]float64{
		"x/hadr_state": 5,
		"x/enabled":    1,
		"x/ratio":      -0.5,
	}
	if diff := deep.Equal(got, expect); diff != nil {
		t.Error(diff)
	}
}

func TestRunRowNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"A"}))

	got, err := query.NewRunner("db1").Run(context.Background(), db, "x", "SELECT", dbpoll.SHAPE_ROW)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRunSet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"TBSP_NAME", "TBSP_UTILIZATION_PERCENT"}).
			AddRow("DATA1", 80.5).
			AddRow("DATA2", 10).
			AddRow(nil, 1), // skipped
	).RowsWillBeClosed()

	got, err := query.NewRunner("db1").Run(context.Background(), db, "tbsp", "SELECT", dbpoll.SHAPE_SET)
	require.NoError(t, err)

	expect := map[string]float64{
		"tbsp_DATA1/tbsp_utilization_percent": 80.5,
		"tbsp_DATA2/tbsp_utilization_percent": 10,
	}
	if diff := deep.Equal(got, expect); diff != nil {
		t.Error(diff)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSetUnknownIdentity(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"OTHER", "V"}).AddRow("DATA1", 80.5),
	).RowsWillBeClosed()

	got, err := query.NewRunner("db1").Run(context.Background(), db, "tbsp", "SELECT", dbpoll.SHAPE_SET)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSetIdentityCase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"bp_name", "POOL_DATA_L_READS"}).AddRow("IBMDEFAULTBP  ", "100"),
	)

	got, err := query.NewRunner("db1").Run(context.Background(), db, "bufferpool", "SELECT", dbpoll.SHAPE_SET)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"bufferpool_IBMDEFAULTBP/pool_data_l_reads": 100}, got)
}

func TestRunQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// database/sql retries ErrBadConn on a new conn, so return an
	// error it passes through as is
	mock.ExpectQuery("SELECT").WillReturnError(sql.ErrConnDone)

	got, err := query.NewRunner("db1").Run(context.Background(), db, "x", "SELECT", dbpoll.SHAPE_ROW)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRunRowError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Error while reading rows: nothing from the category is returned
	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"TBSP_NAME", "V"}).
			AddRow("DATA1", 1).
			AddRow("DATA2", 2).
			RowError(1, sql.ErrConnDone),
	).RowsWillBeClosed()

	got, err := query.NewRunner("db1").Run(context.Background(), db, "tbsp", "SELECT", dbpoll.SHAPE_SET)
	assert.Error(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInvalidShape(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	got, err := query.NewRunner("db1").Run(context.Background(), db, "x", "SELECT", "table")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet()) // not executed
}
