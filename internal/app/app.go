package app

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/guttosm/spimexpulse/config"
	"github.com/guttosm/spimexpulse/internal/fetcher"
	"github.com/guttosm/spimexpulse/internal/ingestion"
	"github.com/guttosm/spimexpulse/internal/logger"
	"github.com/guttosm/spimexpulse/internal/storage"
)

// databaseOpener is an indirection used by InitializeApp; overridden in tests to avoid real connections.
var databaseOpener = OpenDatabase

// InitializeApp sets up all job dependencies and returns a ready pipeline,
// a cleanup function, and any error encountered during initialization.
//
// Responsibilities:
//   - Connects to the store named by DATABASE_URL.
//   - Ensures the tables exist.
//   - Builds the HTTP fetcher, locator, extractor and normalizer.
//   - Wires them into an ingestion.Pipeline bounded by the ingest settings.
//
// Returns:
//   - *ingestion.Pipeline: the configured pipeline.
//   - func(): cleanup function closing the database.
//   - error: any initialization error that occurred.
func InitializeApp(ctx context.Context) (*ingestion.Pipeline, func(), error) {
	cfg := config.AppConfig

	db, dialect, err := databaseOpener(ctx, cfg)
	if err != nil {
		return nil, nil, eris.Wrap(err, "failed to initialize database")
	}

	repo := storage.NewTradeResultsRepository(db, dialect)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, eris.Wrap(err, "failed to ensure schema")
	}
	logger.L().Debug().Str("dialect", dialect.String()).Msg("database ready")

	f := fetcher.New(fetcher.Options{
		UserAgent: cfg.Source.UserAgent,
		Timeout:   cfg.Source.Timeout,
		RateLimit: cfg.Source.RateLimit,
	})

	pipeline := ingestion.NewPipeline(
		ingestion.NewLocator(f, cfg.Source.BaseURL, cfg.Source.ResultsURL),
		ingestion.NewExtractor(f),
		ingestion.NewNormalizer(),
		repo,
		ingestion.Options{
			MaxResults:   cfg.Ingest.MaxResults,
			EarliestDate: cfg.Ingest.EarliestDate,
			Parallel:     cfg.Ingest.Parallel,
			SkipExisting: cfg.Ingest.SkipExisting,
			Force:        cfg.Ingest.Force,
		},
	)

	cleanup := func() {
		_ = db.Close()
	}

	return pipeline, cleanup, nil
}
