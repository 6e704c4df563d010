package app

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/guttosm/spimexpulse/config"
	"github.com/guttosm/spimexpulse/internal/storage"

	_ "github.com/lib/pq"  // PostgreSQL driver for database/sql
	_ "modernc.org/sqlite" // pure Go SQLite driver for database/sql
)

// sqlOpener is an indirection for unit testing; defaults to sql.Open
var sqlOpener = sql.Open

// sqlitePragmas tune the embedded store for a single writer.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// OpenDatabase opens the store named by cfg.Postgres.URL and verifies connectivity.
//
// Behavior:
//   - postgres://, postgresql:// and key=value DSNs use lib/pq.
//   - postgresql+asyncpg:// URLs are accepted and treated as postgresql://.
//   - sqlite://path and file: DSNs use modernc.org/sqlite with WAL enabled and
//     a single open connection.
//
// Returns:
//   - *sql.DB: an open connection pool.
//   - storage.Dialect: the SQL flavor the repository must speak.
//   - error: if the DSN is unsupported or opening/pinging fails.
func OpenDatabase(ctx context.Context, cfg config.Config) (*sql.DB, storage.Dialect, error) {
	driver, dsn, dialect, err := resolveDSN(cfg.Postgres.URL)
	if err != nil {
		return nil, 0, err
	}

	db, err := sqlOpener(driver, dsn)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "open %s", dialect)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, 0, eris.Wrapf(err, "ping %s", dialect)
	}

	if dialect == storage.SQLite {
		db.SetMaxOpenConns(1)
		for _, pragma := range sqlitePragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, 0, eris.Wrapf(err, "sqlite: exec %s", pragma)
			}
		}
	}

	return db, dialect, nil
}

// resolveDSN maps a database URL to a database/sql driver name and DSN.
func resolveDSN(raw string) (driver, dsn string, dialect storage.Dialect, err error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return "", "", 0, eris.New("database url is empty")
	case strings.HasPrefix(raw, "postgresql+asyncpg://"):
		return "postgres", "postgresql://" + strings.TrimPrefix(raw, "postgresql+asyncpg://"), storage.Postgres, nil
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return "postgres", raw, storage.Postgres, nil
	case strings.HasPrefix(raw, "sqlite://"):
		// sqlite:///rel.db is relative, sqlite:////abs.db is absolute
		path := strings.TrimPrefix(strings.TrimPrefix(raw, "sqlite://"), "/")
		if path == "" {
			return "", "", 0, eris.Errorf("sqlite url %q has no path", raw)
		}
		return "sqlite", path, storage.SQLite, nil
	case strings.HasPrefix(raw, "file:"):
		return "sqlite", raw, storage.SQLite, nil
	case strings.Contains(raw, "host=") || strings.Contains(raw, "dbname="):
		return "postgres", raw, storage.Postgres, nil
	default:
		return "", "", 0, eris.Errorf("unsupported database url %q", redact(raw))
	}
}

// redact hides everything after the scheme so credentials never reach logs.
func redact(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		return raw[:i] + "://***"
	}
	return "***"
}
