package ingestion

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/guttosm/spimexpulse/internal/domain/models"
	"github.com/guttosm/spimexpulse/internal/logger"
	"github.com/guttosm/spimexpulse/internal/storage"
)

// Options bounds a single ingestion run.
//
// Fields:
//   - MaxResults: maximum number of bulletins to locate.
//   - EarliestDate: bulletins from years before this date's year stop the crawl.
//   - Parallel: concurrent downloads; 0 starts one goroutine per bulletin.
//   - SkipExisting: skip trade dates already present in ingestion_log.
//   - Force: reload trade dates already present in ingestion_log. The old rows
//     are deleted in the same transaction that inserts the new ones; a
//     bulletin without trade rows leaves them untouched.
type Options struct {
	MaxResults   int
	EarliestDate time.Time
	Parallel     int
	SkipExisting bool
	Force        bool
}

// Summary reports what one run did.
type Summary struct {
	RunID     string
	Located   int
	Extracted int
	Persisted int
	Skipped   int
	Inserted  int
	Failed    int
	Elapsed   time.Duration
}

// Pipeline drives locate → download/extract → normalize → persist.
type Pipeline struct {
	locator    BulletinLocator
	extractor  BulletinExtractor
	normalizer *Normalizer
	repo       storage.TradeResultsRepository
	opts       Options
	newRunID   func() string
}

// NewPipeline wires the pipeline stages together.
func NewPipeline(
	locator BulletinLocator,
	extractor BulletinExtractor,
	normalizer *Normalizer,
	repo storage.TradeResultsRepository,
	opts Options,
) *Pipeline {
	return &Pipeline{
		locator:    locator,
		extractor:  extractor,
		normalizer: normalizer,
		repo:       repo,
		opts:       opts,
		newRunID:   uuid.NewString,
	}
}

// Run executes one ingestion pass.
//
// Behavior:
//   - Locates bulletins once; a listing failure aborts the run.
//   - Downloads and extracts every bulletin concurrently. The first download
//     failure cancels the others and aborts the run.
//   - Normalizes and persists the extracted tables one by one in listing
//     order, after all downloads have finished.
//   - A persistence failure is logged and counted; the remaining bulletins are
//     still processed and Run returns an error at the end.
func (p *Pipeline) Run(ctx context.Context) (s Summary, err error) {
	start := time.Now()
	defer func() { s.Elapsed = time.Since(start) }()

	s.RunID = p.newRunID()
	log := logger.ForRun(s.RunID)

	log.Info().Int("max_results", p.opts.MaxResults).Str("earliest", p.opts.EarliestDate.Format(time.DateOnly)).Msg("ingestion start")

	refs, err := p.locator.Locate(ctx, p.opts.MaxResults, p.opts.EarliestDate)
	if err != nil {
		return s, eris.Wrap(err, "locate bulletins")
	}
	s.Located = len(refs)
	log.Info().Int("bulletins", len(refs)).Msg("bulletins located")

	tables, err := p.extractAll(ctx, log, refs)
	if err != nil {
		return s, err
	}

	for i, ref := range refs {
		if tables[i] == nil {
			continue
		}
		s.Extracted++

		inserted, skipped, err := p.persistBulletin(ctx, log, s.RunID, ref, tables[i])
		switch {
		case err != nil:
			s.Failed++
			log.Error().Str("url", ref.URL).Str("date", ref.TradeDate.Format(time.DateOnly)).Err(err).Msg("bulletin failed")
		case skipped:
			s.Skipped++
		default:
			s.Persisted++
			s.Inserted += inserted
		}
	}

	if s.Failed > 0 {
		return s, eris.Errorf("%d of %d bulletins failed to persist", s.Failed, s.Extracted)
	}
	return s, nil
}

// extractAll runs one Extract per reference. Results keep the index of their reference.
func (p *Pipeline) extractAll(ctx context.Context, log *zerolog.Logger, refs []models.BulletinRef) ([]*models.RawTable, error) {
	tables := make([]*models.RawTable, len(refs))

	// errgroup will cancel siblings on first error.
	g, gctx := errgroup.WithContext(ctx)
	if p.opts.Parallel > 0 {
		g.SetLimit(p.opts.Parallel)
	}

	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			start := time.Now()
			table, err := p.extractor.Extract(gctx, ref.URL)
			if err != nil {
				return eris.Wrapf(err, "bulletin %s", ref.TradeDate.Format(time.DateOnly))
			}
			tables[i] = table

			ev := log.Debug()
			if table != nil {
				ev = ev.Int("rows", len(table.Rows))
			}
			ev.Int("idx", i+1).Int("total", len(refs)).Str("url", ref.URL).Dur("elapsed", time.Since(start)).Bool("found", table != nil).Msg("bulletin downloaded")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tables, nil
}

// persistBulletin normalizes and stores one extracted table.
// skipped reports that nothing was written on purpose.
func (p *Pipeline) persistBulletin(ctx context.Context, log *zerolog.Logger, runID string, ref models.BulletinRef, table *models.RawTable) (inserted int, skipped bool, err error) {
	start := time.Now()
	date := truncateToDate(ref.TradeDate)
	dateStr := date.Format(time.DateOnly)

	// Idempotency: skip if already ingested, unless force
	replace := false
	if p.opts.SkipExisting || p.opts.Force {
		exists, err := p.repo.HasIngestionForDate(ctx, date)
		if err != nil {
			return 0, false, err
		}
		if exists && !p.opts.Force {
			log.Info().Str("date", dateStr).Bool("skipped", true).Msg("already ingested")
			return 0, true, nil
		}
		replace = exists
	}

	results := p.normalizer.Normalize(table, ref.TradeDate)
	if results == nil {
		log.Warn().Str("url", ref.URL).Str("date", dateStr).Strs("header", table.Header).Msg("bulletin is missing required columns")
		return 0, true, nil
	}
	if len(results) == 0 {
		log.Warn().Str("url", ref.URL).Str("date", dateStr).Msg("bulletin has no trade rows")
		return 0, true, nil
	}

	if replace {
		inserted, err = p.repo.ReplaceTradeResultsForDate(ctx, date, results)
	} else {
		inserted, err = p.repo.UpsertTradeResults(ctx, results)
	}
	if err != nil {
		return 0, false, err
	}

	if err := p.repo.UpsertIngestionLog(ctx, storage.IngestionLogEntry{
		FileDate:   date,
		URL:        ref.URL,
		RowCount:   len(results),
		Inserted:   inserted,
		RunID:      runID,
		IngestedAt: time.Now().UTC(),
	}); err != nil {
		return inserted, false, err
	}

	ev := log.Info().Str("date", dateStr).Int("rows", len(results)).Int("inserted", inserted).Dur("elapsed", time.Since(start))
	if sum, err := p.repo.SummarizeDate(ctx, date); err == nil {
		ev = ev.Int64("stored_rows", sum.Rows).Str("stored_volume", sum.Volume.String()).Int64("stored_contracts", sum.Contracts)
	}
	ev.Msg("bulletin persisted")

	return inserted, false, nil
}
