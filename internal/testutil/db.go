// Package testutil opens migrated in-memory SQLite databases for tests.
package testutil

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"

	"stationwatch/internal/db"
	"stationwatch/internal/migrate"
)

// OpenDB returns an in-memory SQLite database with every migration applied.
// The pool is limited to one connection so all callers share the same memory
// database.
func OpenDB(t testing.TB) *sqlx.DB {
	t.Helper()
	connector, err := db.NewLoggingConnector(&sqlite3.SQLiteDriver{}, ":memory:?_foreign_keys=on", slog.Default())
	if err != nil {
		t.Fatalf("connector: %v", err)
	}
	sqlDB := sql.OpenDB(connector)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		if err := sqlDB.Close(); err != nil {
			t.Errorf("close db: %v", err)
		}
	})

	conn := sqlx.NewDb(sqlDB, db.DriverSQLite)
	if err := migrate.Run(context.Background(), conn, slog.Default()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// Count returns the number of rows in table matching where (may be empty).
func Count(t testing.TB, conn *sqlx.DB, table, where string, args ...any) int {
	t.Helper()
	q := "SELECT COUNT(*) FROM " + table
	if where != "" {
		q += " WHERE " + where
	}
	var n int
	if err := conn.Get(&n, conn.Rebind(q), args...); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

// MustExec runs a statement and fails the test on error.
func MustExec(t testing.TB, conn *sqlx.DB, query string, args ...any) {
	t.Helper()
	if _, err := conn.Exec(conn.Rebind(query), args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}
