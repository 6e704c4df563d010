package app

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/guttosm/spimexpulse/config"
	"github.com/guttosm/spimexpulse/internal/storage"
)

func withURL(url string) config.Config {
	return config.Config{Postgres: config.PostgresConfig{URL: url}}
}

func TestResolveDSN(t *testing.T) {
	cases := []struct {
		in      string
		driver  string
		dsn     string
		dialect storage.Dialect
	}{
		{"postgres://u:p@h:5432/d?sslmode=disable", "postgres", "postgres://u:p@h:5432/d?sslmode=disable", storage.Postgres},
		{"postgresql://u:p@h/d", "postgres", "postgresql://u:p@h/d", storage.Postgres},
		{"postgresql+asyncpg://u:p@h:5432/d", "postgres", "postgresql://u:p@h:5432/d", storage.Postgres},
		{"host=h port=5432 user=u dbname=d sslmode=disable", "postgres", "host=h port=5432 user=u dbname=d sslmode=disable", storage.Postgres},
		{"sqlite:///spimex.db", "sqlite", "spimex.db", storage.SQLite},
		{"sqlite:////var/lib/spimex.db", "sqlite", "/var/lib/spimex.db", storage.SQLite},
		{"file:spimex.db?cache=shared", "sqlite", "file:spimex.db?cache=shared", storage.SQLite},
	}
	for _, c := range cases {
		driver, dsn, dialect, err := resolveDSN(c.in)
		if err != nil {
			t.Fatalf("resolveDSN(%q): %v", c.in, err)
		}
		if driver != c.driver || dsn != c.dsn || dialect != c.dialect {
			t.Fatalf("resolveDSN(%q)=(%q,%q,%v)", c.in, driver, dsn, dialect)
		}
	}
}

func TestResolveDSN_Rejects(t *testing.T) {
	for _, in := range []string{"", "   ", "sqlite://", "mysql://root:secret@h/d"} {
		if _, _, _, err := resolveDSN(in); err == nil {
			t.Fatalf("resolveDSN(%q) expected error", in)
		}
	}

	_, _, _, err := resolveDSN("mysql://root:secret@h/d")
	if strings.Contains(err.Error(), "secret") {
		t.Fatalf("error leaks credentials: %v", err)
	}
}

func TestOpenDatabase_OpenError(t *testing.T) {
	old := sqlOpener
	sqlOpener = func(driverName, dataSourceName string) (*sql.DB, error) {
		return nil, errors.New("open failed")
	}
	t.Cleanup(func() { sqlOpener = old })

	_, _, err := OpenDatabase(context.Background(), withURL("postgres://u:p@h:5432/d"))
	if err == nil {
		t.Fatalf("expected error from OpenDatabase when open fails")
	}
}

func TestOpenDatabase_PingError(t *testing.T) {
	old := sqlOpener
	sqlOpener = func(driverName, dataSourceName string) (*sql.DB, error) {
		// Use sqlmock to return a *sql.DB whose Ping fails (enable ping monitoring)
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("sqlmock new: %v", err)
		}
		mock.ExpectPing().WillReturnError(errors.New("ping failed"))
		mock.ExpectClose()
		return db, nil
	}
	t.Cleanup(func() { sqlOpener = old })

	_, _, err := OpenDatabase(context.Background(), withURL("postgres://u:p@h:5432/d"))
	if err == nil {
		t.Fatalf("expected ping error from OpenDatabase")
	}
}

func TestOpenDatabase_PostgresDriverSelected(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	mock.ExpectPing()

	var gotDriver, gotDSN string
	old := sqlOpener
	sqlOpener = func(driverName, dataSourceName string) (*sql.DB, error) {
		gotDriver, gotDSN = driverName, dataSourceName
		return db, nil
	}
	t.Cleanup(func() {
		sqlOpener = old
		_ = db.Close()
	})

	_, dialect, err := OpenDatabase(context.Background(), withURL("postgresql+asyncpg://u:p@h:5432/d"))
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	if gotDriver != "postgres" || gotDSN != "postgresql://u:p@h:5432/d" || dialect != storage.Postgres {
		t.Fatalf("driver=%q dsn=%q dialect=%v", gotDriver, gotDSN, dialect)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOpenDatabase_SQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spimex.db")

	db, dialect, err := OpenDatabase(context.Background(), withURL("sqlite:///"+path))
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	defer db.Close()

	if dialect != storage.SQLite {
		t.Fatalf("dialect=%v, want sqlite", dialect)
	}
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode=%q, want wal", mode)
	}
}
