// Package dbtest wires a pgxmock pool behind database.DB for unit tests of
// the packages that sit on top of the driver.
package dbtest

import (
	"testing"

	"github.com/koustreak/featureserv/internal/database"
	"github.com/koustreak/featureserv/internal/database/postgres"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/require"
)

// NewMock returns a database.DB backed by a fresh pgxmock pool. The pool is
// closed when the test ends.
func NewMock(t testing.TB) (database.DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return postgres.NewFromPool(mock), mock
}

// Str returns a pointer to s, for nullable text columns in mock rows.
func Str(s string) *string { return &s }

// Float returns a pointer to f, for nullable float columns in mock rows.
func Float(f float64) *float64 { return &f }

// Int32 returns a pointer to n, for nullable integer columns in mock rows.
func Int32(n int32) *int32 { return &n }
