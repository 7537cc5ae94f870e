package db

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/jmoiron/sqlx"

	"stationwatch/internal/config"
)

func newTxTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db := sqlx.NewDb(openLogged(t, slog.Default()), DriverSQLite)
	if _, err := db.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

func countRows(t *testing.T, db *sqlx.DB) int {
	t.Helper()
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM t`); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestWithTx_Commit(t *testing.T) {
	db := newTxTestDB(t)

	err := WithTx(context.Background(), db, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`INSERT INTO t (id) VALUES (1)`)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if n := countRows(t, db); n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
}

func TestWithTx_RollbackOnError(t *testing.T) {
	db := newTxTestDB(t)
	boom := errors.New("boom")

	err := WithTx(context.Background(), db, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`INSERT INTO t (id) VALUES (1)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if n := countRows(t, db); n != 0 {
		t.Fatalf("rows = %d, want 0 after rollback", n)
	}
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	db := newTxTestDB(t)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = WithTx(context.Background(), db, func(tx *sqlx.Tx) error {
			if _, err := tx.Exec(`INSERT INTO t (id) VALUES (1)`); err != nil {
				return err
			}
			panic("boom")
		})
	}()

	if n := countRows(t, db); n != 0 {
		t.Fatalf("rows = %d, want 0 after panic", n)
	}
}

func TestBuildDSN_SQLiteParams(t *testing.T) {
	dir := t.TempDir()
	got, err := buildDSN(configForPath(dir + "/app.db"))
	if err != nil {
		t.Fatalf("buildDSN: %v", err)
	}
	want := "file:" + dir + "/app.db?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	if got != want {
		t.Errorf("buildDSN = %q, want %q", got, want)
	}
}

func TestDriverFor_Unknown(t *testing.T) {
	if _, err := driverFor("mysql"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func configForPath(path string) config.Config {
	return config.Config{Driver: DriverSQLite, SQLitePath: path}
}
