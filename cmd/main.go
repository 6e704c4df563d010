package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guttosm/spimexpulse/config"
	"github.com/guttosm/spimexpulse/internal/app"
	"github.com/guttosm/spimexpulse/internal/logger"
)

// run performs one ingestion pass and writes the completion line to out.
//
// Parameters:
//   - ctx (context.Context): canceled on SIGINT/SIGTERM; aborts in-flight requests and queries.
//   - out (io.Writer): receives "Completed in N.NN seconds" on success.
//
// Returns:
//   - error: initialization failure, listing/download failure, or a failed bulletin write.
func run(ctx context.Context, out io.Writer) error {
	start := time.Now()

	pipeline, cleanup, err := app.InitializeApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := pipeline.Run(ctx)
	logger.L().Info().
		Str("run_id", summary.RunID).
		Int("located", summary.Located).
		Int("extracted", summary.Extracted).
		Int("persisted", summary.Persisted).
		Int("skipped", summary.Skipped).
		Int("inserted", summary.Inserted).
		Int("failed", summary.Failed).
		Dur("elapsed", summary.Elapsed).
		Msg("ingestion summary")
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "Completed in %.2f seconds\n", time.Since(start).Seconds())
	return nil
}

// main is the entry point of the spimexpulse job.
//
// The job takes no flags. Configuration comes from the environment or a .env
// file (see config.LoadConfig). It runs one ingestion pass and exits non-zero
// on failure.
func main() {
	// Load configuration from environment or .env file
	config.LoadConfig()

	// Initialize JSON logger
	logger.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.L().Info().Msg("running ingestion")
	if err := run(ctx, os.Stdout); err != nil {
		stop()
		logger.L().Fatal().Err(err).Msg("ingestion failed")
	}
	logger.L().Info().Msg("ingestion completed successfully")
}
