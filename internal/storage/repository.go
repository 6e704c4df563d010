package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/guttosm/spimexpulse/internal/domain/models"
)

// Dialect selects the SQL flavour spoken by the underlying *sql.DB.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

var (
	//go:embed schema/postgres.sql
	postgresSchema string

	//go:embed schema/sqlite.sql
	sqliteSchema string
)

// TradeResultsRepository defines contract for DB operations.
type TradeResultsRepository interface {
	EnsureSchema(ctx context.Context) error
	UpsertTradeResults(ctx context.Context, results []models.TradeResult) (int, error)
	ReplaceTradeResultsForDate(ctx context.Context, date time.Time, results []models.TradeResult) (int, error)
	ListTradeResultsByDate(ctx context.Context, date time.Time) ([]models.TradeResult, error)
	SummarizeDate(ctx context.Context, date time.Time) (*models.DailySummary, error)
	DeleteTradeResultsByDate(ctx context.Context, date time.Time) error
	HasIngestionForDate(ctx context.Context, date time.Time) (bool, error)
	UpsertIngestionLog(ctx context.Context, entry IngestionLogEntry) error
}

// IngestionLogEntry records the outcome of loading one bulletin.
type IngestionLogEntry struct {
	FileDate   time.Time
	URL        string
	RowCount   int
	Inserted   int
	RunID      string
	IngestedAt time.Time
}

type tradeResultsRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewTradeResultsRepository(db *sql.DB, dialect Dialect) TradeResultsRepository {
	return &tradeResultsRepository{db: db, dialect: dialect}
}

const (
	insertTradeResultSQL = `
		INSERT INTO spimex_trading_results (
			exchange_product_id, exchange_product_name, oil_id, delivery_basis_id,
			delivery_basis_name, delivery_type_id, volume, total, count, date,
			created_on, updated_on
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (exchange_product_id, date) DO NOTHING`

	selectTradeResultsByDateSQL = `
		SELECT id, exchange_product_id, exchange_product_name, oil_id, delivery_basis_id,
			delivery_basis_name, delivery_type_id, volume, total, count, date,
			created_on, updated_on
		FROM spimex_trading_results
		WHERE date = ?
		ORDER BY id`

	deleteTradeResultsByDateSQL = `DELETE FROM spimex_trading_results WHERE date = ?`

	summarizeDateSQL = `
		SELECT COUNT(*), COALESCE(SUM(volume), 0), COALESCE(SUM(total), 0), COALESCE(SUM(count), 0)
		FROM spimex_trading_results
		WHERE date = ?`

	upsertIngestionLogSQL = `
		INSERT INTO ingestion_log (file_date, url, row_count, inserted_count, run_id, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (file_date)
		DO UPDATE SET url = EXCLUDED.url,
			row_count = EXCLUDED.row_count,
			inserted_count = EXCLUDED.inserted_count,
			run_id = EXCLUDED.run_id,
			ingested_at = EXCLUDED.ingested_at`
)

// EnsureSchema creates the tables and indexes if they do not exist yet.
func (r *tradeResultsRepository) EnsureSchema(ctx context.Context) error {
	ddl := postgresSchema
	if r.dialect == SQLite {
		ddl = sqliteSchema
	}
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return eris.Wrapf(err, "%s: ensure schema", r.dialect)
	}
	return nil
}

// UpsertTradeResults inserts the batch in a single transaction. A row whose
// (exchange_product_id, date) already exists is skipped by the database, so
// one conflicting row never discards the rest of the batch. Within a batch the
// first of two same-key rows wins. Returns the number of rows actually inserted.
func (r *tradeResultsRepository) UpsertTradeResults(ctx context.Context, results []models.TradeResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}
	return r.writeBatch(ctx, nil, results)
}

// ReplaceTradeResultsForDate deletes every stored row of date and inserts
// results in the same transaction, so readers never see the date half loaded.
// On any error nothing changes.
func (r *tradeResultsRepository) ReplaceTradeResultsForDate(ctx context.Context, date time.Time, results []models.TradeResult) (int, error) {
	return r.writeBatch(ctx, &date, results)
}

// writeBatch runs the insert loop in one transaction, first clearing
// replaceDate when it is set.
func (r *tradeResultsRepository) writeBatch(ctx context.Context, replaceDate *time.Time, results []models.TradeResult) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "begin tx")
	}

	if r.dialect == Postgres {
		// Small optimization for bulk load
		if _, err := tx.ExecContext(ctx, `SET LOCAL synchronous_commit = OFF`); err != nil {
			_ = tx.Rollback()
			return 0, eris.Wrap(err, "set synchronous_commit")
		}
	}

	if replaceDate != nil {
		if _, err := tx.ExecContext(ctx, r.rebind(deleteTradeResultsByDateSQL), *replaceDate); err != nil {
			_ = tx.Rollback()
			return 0, eris.Wrapf(err, "delete trade results for %s", replaceDate.Format(time.DateOnly))
		}
	}

	stmt, err := tx.PrepareContext(ctx, r.rebind(insertTradeResultSQL))
	if err != nil {
		_ = tx.Rollback()
		return 0, eris.Wrap(err, "prepare insert")
	}

	inserted := 0
	for _, rec := range results {
		res, err := stmt.ExecContext(ctx,
			rec.ExchangeProductID,
			rec.ExchangeProductName,
			rec.OilID,
			rec.DeliveryBasisID,
			rec.DeliveryBasisName,
			rec.DeliveryTypeID,
			rec.Volume,
			rec.Total,
			rec.Count,
			rec.Date,
			rec.CreatedOn,
			rec.UpdatedOn,
		)
		if err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return 0, eris.Wrapf(err, "insert %s for %s", rec.ExchangeProductID, rec.Date.Format(time.DateOnly))
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return 0, eris.Wrap(err, "close insert statement")
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "commit")
	}
	return inserted, nil
}

// ListTradeResultsByDate returns the stored rows of one trade date in insertion order.
func (r *tradeResultsRepository) ListTradeResultsByDate(ctx context.Context, date time.Time) ([]models.TradeResult, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(selectTradeResultsByDateSQL), date)
	if err != nil {
		return nil, eris.Wrap(err, "query trade results")
	}
	defer func() { _ = rows.Close() }()

	var out []models.TradeResult
	for rows.Next() {
		var t models.TradeResult
		if err := rows.Scan(
			&t.ID,
			&t.ExchangeProductID,
			&t.ExchangeProductName,
			&t.OilID,
			&t.DeliveryBasisID,
			&t.DeliveryBasisName,
			&t.DeliveryTypeID,
			&t.Volume,
			&t.Total,
			&t.Count,
			&t.Date,
			&t.CreatedOn,
			&t.UpdatedOn,
		); err != nil {
			return nil, eris.Wrap(err, "scan trade result")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "iterate trade results")
	}
	return out, nil
}

// SummarizeDate returns row count and sums for one trade date.
// A date with no rows yields a zero summary.
//
// SQLite keeps volume and total as TEXT and its SUM goes through REAL, so on
// that dialect the rows are read back and summed as decimals instead.
func (r *tradeResultsRepository) SummarizeDate(ctx context.Context, date time.Time) (*models.DailySummary, error) {
	if r.dialect == SQLite {
		return r.summarizeRows(ctx, date)
	}

	var s models.DailySummary
	err := r.db.QueryRowContext(ctx, r.rebind(summarizeDateSQL), date).Scan(&s.Rows, &s.Volume, &s.Total, &s.Contracts)
	if err != nil {
		return nil, eris.Wrap(err, "summarize date")
	}
	return &s, nil
}

func (r *tradeResultsRepository) summarizeRows(ctx context.Context, date time.Time) (*models.DailySummary, error) {
	rows, err := r.ListTradeResultsByDate(ctx, date)
	if err != nil {
		return nil, eris.Wrap(err, "summarize date")
	}

	var s models.DailySummary
	for _, t := range rows {
		s.Rows++
		s.Volume = s.Volume.Add(t.Volume)
		s.Total = s.Total.Add(t.Total)
		s.Contracts += t.Count
	}
	return &s, nil
}

// DeleteTradeResultsByDate removes all rows for a given trade date.
func (r *tradeResultsRepository) DeleteTradeResultsByDate(ctx context.Context, date time.Time) error {
	_, err := r.db.ExecContext(ctx, r.rebind(deleteTradeResultsByDateSQL), date)
	return eris.Wrap(err, "delete trade results")
}

// HasIngestionForDate checks if a bulletin was already loaded for a given trade date.
func (r *tradeResultsRepository) HasIngestionForDate(ctx context.Context, date time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT EXISTS(SELECT 1 FROM ingestion_log WHERE file_date = ?)`), date).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "check ingestion log")
	}
	return exists, nil
}

// UpsertIngestionLog records (or updates) the ingestion entry for a trade date.
func (r *tradeResultsRepository) UpsertIngestionLog(ctx context.Context, e IngestionLogEntry) error {
	_, err := r.db.ExecContext(ctx, r.rebind(upsertIngestionLogSQL),
		e.FileDate, e.URL, e.RowCount, e.Inserted, e.RunID, e.IngestedAt)
	return eris.Wrap(err, "upsert ingestion log")
}

// rebind rewrites ? placeholders into $n for Postgres.
func (r *tradeResultsRepository) rebind(query string) string {
	if r.dialect != Postgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}
