package database

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatements(t *testing.T) {
	stmts := statements(schema)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS accounts")
	assert.Contains(t, stmts[1], "CREATE TABLE IF NOT EXISTS usage_events")
	assert.Contains(t, stmts[2], "CREATE TABLE IF NOT EXISTS billing_gaps")
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"accounts", "usage_events", "billing_gaps"} {
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS " + table)).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, Migrate(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}
