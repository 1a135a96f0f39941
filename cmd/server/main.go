/*
main.go - Application entry point

PURPOSE:
  Loads the retail CSV files, builds the dataset and serves the forecast
  dashboard. Handles configuration, dependency injection, and graceful
  shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment), apply command-line flags
  2. Load and merge the three CSV files (or generate demo data)
  3. Split every store at the cutoff
  4. Open the SQLite run log, start the session janitor and run pruner
  5. Configure the HTTP router and serve

  Any load failure (missing file, missing column, malformed value) is fatal
  and exits non-zero before the server listens.

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: PORT or 8050)
  -data    Directory holding the CSV files (default: DATA_DIR or data)
  -db      SQLite run log path (default: DB_PATH or :memory:)
  -cutoff  Train/validation cutoff date (default: CUTOFF_DATE or 2012-04-01)
  -demo    Serve generated sample data instead of the CSV files
  -debug   Console logging at debug level

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close websocket connections and wait for their forecasts
  4. Stop background workers, close the run log
  5. Exit

EXAMPLES:
  ./server -data=./data
  ./server -demo -debug
  ./server -db=./runs.db -cutoff=2012-01-01

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - retail/loader.go: CSV ingestion
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/retail-forecast/api"
	"github.com/warp/retail-forecast/config"
	"github.com/warp/retail-forecast/forecast"
	"github.com/warp/retail-forecast/retail"
	"github.com/warp/retail-forecast/session"
	"github.com/warp/retail-forecast/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	// Flags override the environment.
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "Directory holding the CSV files")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite run log path (\":memory:\" keeps nothing)")
	flag.StringVar(&cfg.CutoffDate, "cutoff", cfg.CutoffDate, "Train/validation cutoff date")
	flag.BoolVar(&cfg.Demo, "demo", cfg.Demo, "Serve generated sample data")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Console logging at debug level")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log := newLogger(cfg)
	if cfg.EnvFile != "" {
		log.Debug().Str("file", cfg.EnvFile).Msg("loaded env file")
	}

	data, err := loadDataset(cfg, log)
	if err != nil {
		return err
	}

	// Initialize run log
	runs, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer runs.Close()

	forecaster := forecast.New(data,
		forecast.WithModel(forecast.AdditiveFactory(forecast.Options{IntervalWidth: cfg.IntervalWidth})),
		forecast.WithTimeout(cfg.ForecastTimeout),
		forecast.WithLogger(log),
	)

	sequencer := session.NewSequencer(cfg.SessionTTL, log)
	sequencer.Start()
	defer sequencer.Stop()

	pruner := api.NewRunPruner(runs, cfg.RunRetention, log)
	pruner.Start()
	defer pruner.Stop()

	handler := api.NewHandler(data, forecaster, sequencer, runs, log)
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.AllowedOrigins})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msgf("dashboard on http://localhost:%d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	var runErr error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		runErr = fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil && runErr == nil {
		runErr = fmt.Errorf("server forced to shutdown: %w", err)
	}
	// Shutdown skips hijacked websocket connections. Their forecasts must be
	// recorded before the deferred runs.Close.
	if err := handler.CloseConnections(ctx); err != nil {
		log.Warn().Err(err).Msg("websocket connections still open at shutdown")
	}
	if runErr != nil {
		return runErr
	}

	log.Info().Msg("server stopped")
	return nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.SetGlobalLevel(cfg.Level())
	if cfg.Debug {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		return zerolog.New(out).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Str("service", "retail-forecast").Logger()
}

// loadDataset reads, merges and splits the data. Errors are fatal.
func loadDataset(cfg *config.Config, log zerolog.Logger) (*retail.Dataset, error) {
	cutoff, err := cfg.Cutoff()
	if err != nil {
		return nil, err
	}

	var raw *retail.Raw
	if cfg.Demo {
		log.Warn().Msg("serving generated demo data")
		raw = retail.DefaultSample()
	} else {
		raw, err = retail.LoadDir(cfg.DataDir, cfg.Files)
		if err != nil {
			return nil, fmt.Errorf("load data: %w", err)
		}
	}

	data, err := retail.NewDataset(raw, cutoff)
	if err != nil {
		return nil, fmt.Errorf("build dataset: %w", err)
	}

	report := data.Report()
	log.Info().
		Int("sales_rows", report.SalesRows).
		Int("feature_rows", report.FeatureRows).
		Int("observations", report.Observations).
		Int("stores", report.Stores).
		Time("cutoff", data.Cutoff()).
		Msg("dataset loaded")
	if report.UnmatchedRows > 0 {
		log.Warn().Int("rows", report.UnmatchedRows).Msg("sales rows without a feature or store match were dropped")
	}
	if report.FoldedKeys > 0 {
		log.Warn().
			Int("keys", report.FoldedKeys).
			Msg("several rows per store and week were summed; holiday_rows is a count, the chart plots the 0/1 flag")
	}
	return data, nil
}
