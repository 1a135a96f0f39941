/*
config.go - Runtime configuration

PURPOSE:
  Collects every tunable of the dashboard in one struct. Values come from an
  optional .env file, then the process environment, then defaults.
  cmd/server applies command-line flags on top and calls Validate.

ENVIRONMENT:
  PORT              HTTP port (8050)
  DATA_DIR          directory holding the three CSV files (data)
  SALES_FILE        sales file name ("sales data-set.csv")
  FEATURES_FILE     features file name ("Features data set.csv")
  STORES_FILE       stores file name ("stores data-set.csv")
  DEMO              serve generated sample data instead of DATA_DIR (false)
  DB_PATH           forecast run log (":memory:")
  RUN_RETENTION     age after which runs are pruned, 0 keeps all (24h)
  CUTOFF_DATE       train/validation cutoff, YYYY-MM-DD or DD/MM/YYYY (2012-04-01)
  INTERVAL_WIDTH    uncertainty interval coverage in (0,1) (0.8)
  FORECAST_TIMEOUT  per-forecast deadline, 0 disables (0)
  SESSION_TTL       idle session eviction (30m)
  LOG_LEVEL         zerolog level (info)
  DEBUG             console logging and debug level (false)
  ALLOWED_ORIGINS   comma-separated CORS origins (http://localhost:8050)
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/warp/retail-forecast/retail"
)

// Config holds application configuration
type Config struct {
	Port    int
	DataDir string
	Files   retail.Files
	Demo    bool
	DBPath  string

	RunRetention time.Duration

	// Forecasting
	CutoffDate      string
	IntervalWidth   float64
	ForecastTimeout time.Duration

	// Sessions
	SessionTTL time.Duration

	// Logging
	LogLevel string
	Debug    bool

	AllowedOrigins []string

	// EnvFile is the .env file that was read, empty when none was found.
	EnvFile string
}

// Load reads configuration from the environment. The first readable file of
// envFiles (default ".env") is loaded first; existing variables win.
func Load(envFiles ...string) *Config {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	var loaded string
	for _, f := range envFiles {
		if err := godotenv.Load(f); err == nil {
			loaded = f
			break
		}
	}

	defaults := retail.DefaultFiles()
	return &Config{
		Port:    getEnvInt("PORT", 8050),
		DataDir: getEnvOrDefault("DATA_DIR", "data"),
		Files: retail.Files{
			Sales:    getEnvOrDefault("SALES_FILE", defaults.Sales),
			Features: getEnvOrDefault("FEATURES_FILE", defaults.Features),
			Stores:   getEnvOrDefault("STORES_FILE", defaults.Stores),
		},
		Demo:   getEnvBool("DEMO", false),
		DBPath: getEnvOrDefault("DB_PATH", ":memory:"),

		RunRetention: getEnvDuration("RUN_RETENTION", 24*time.Hour),

		CutoffDate:      getEnvOrDefault("CUTOFF_DATE", retail.DefaultCutoff.Format("2006-01-02")),
		IntervalWidth:   getEnvFloat("INTERVAL_WIDTH", 0.8),
		ForecastTimeout: getEnvDuration("FORECAST_TIMEOUT", 0),

		SessionTTL: getEnvDuration("SESSION_TTL", 30*time.Minute),

		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		Debug:    getEnvBool("DEBUG", false),

		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:8050"}),

		EnvFile: loaded,
	}
}

// Cutoff parses CutoffDate.
func (c *Config) Cutoff() (time.Time, error) {
	return retail.ParseCutoff(c.CutoffDate)
}

// Level returns the zerolog level; DEBUG forces debug.
func (c *Config) Level() zerolog.Level {
	if c.Debug {
		return zerolog.DebugLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if !c.Demo && c.DataDir == "" {
		errs = append(errs, errors.New("data directory is empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db path is empty"))
	}
	if _, err := c.Cutoff(); err != nil {
		errs = append(errs, fmt.Errorf("cutoff date: %w", err))
	}
	if c.IntervalWidth <= 0 || c.IntervalWidth >= 1 {
		errs = append(errs, fmt.Errorf("interval width %g must be in (0,1)", c.IntervalWidth))
	}
	if c.ForecastTimeout < 0 {
		errs = append(errs, fmt.Errorf("forecast timeout %s is negative", c.ForecastTimeout))
	}
	if c.RunRetention < 0 {
		errs = append(errs, fmt.Errorf("run retention %s is negative", c.RunRetention))
	}
	if c.SessionTTL < 0 {
		errs = append(errs, fmt.Errorf("session ttl %s is negative", c.SessionTTL))
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	return errors.Join(errs...)
}

// =============================================================================
// HELPERS
// =============================================================================

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
