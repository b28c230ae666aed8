package common

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Pipeline PipelineConfig
	FX       FXConfig
	Output   OutputConfig
	Database DatabaseConfig
	Server   ServerConfig
	Watch    WatchConfig
}

// PipelineConfig holds per-batch processing settings
type PipelineConfig struct {
	Workers         int
	DocumentTimeout time.Duration
	Percentage      float64
	TargetCurrency  string
	LayoutPath      string // empty means the embedded default profile
	PopplerFallback bool
}

// FXConfig holds exchange-rate resolution settings
type FXConfig struct {
	BaseURL       string
	Timeout       time.Duration
	Retries       int
	Backoff       time.Duration
	RatePerSecond float64
	CacheCapacity int
	StorePath     string // empty disables the persistent rate store
	LookbackDays  int
}

// OutputConfig holds workbook settings
type OutputConfig struct {
	WorkbookPath string
	Sheet        string
}

// DatabaseConfig holds ledger database configuration
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	MaxConnLifetime time.Duration
	DialTimeout     time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
}

// WatchConfig holds inbox watcher configuration
type WatchConfig struct {
	InboxDir string
	Debounce time.Duration
}

// LoadConfig loads configuration from a .env file (if present) and environment variables
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("config.dotenv.skipped", "error", err)
	}
	return &Config{
		Pipeline: PipelineConfig{
			Workers:         getEnvAsInt("INTRASTAT_WORKERS", 4),
			DocumentTimeout: getEnvAsDuration("INTRASTAT_DOCUMENT_TIMEOUT", 2*time.Minute),
			Percentage:      getEnvAsFloat64("INTRASTAT_PERCENTAGE", 0.6),
			TargetCurrency:  strings.ToUpper(getEnv("INTRASTAT_TARGET_CURRENCY", "RON")),
			LayoutPath:      getEnv("INTRASTAT_LAYOUT", ""),
			PopplerFallback: getEnvAsBool("INTRASTAT_POPPLER_FALLBACK", false),
		},
		FX: FXConfig{
			BaseURL:       getEnv("FX_BASE_URL", "https://data-api.ecb.europa.eu/service/data/EXR"),
			Timeout:       getEnvAsDuration("FX_TIMEOUT", 5*time.Second),
			Retries:       getEnvAsInt("FX_RETRIES", 3),
			Backoff:       getEnvAsDuration("FX_BACKOFF", 500*time.Millisecond),
			RatePerSecond: getEnvAsFloat64("FX_RATE_PER_SECOND", 5),
			CacheCapacity: getEnvAsInt("FX_CACHE_CAPACITY", 512),
			StorePath:     getEnv("FX_STORE", "./rates.db"),
			LookbackDays:  getEnvAsInt("FX_LOOKBACK_DAYS", 5),
		},
		Output: OutputConfig{
			WorkbookPath: getEnv("INTRASTAT_OUTPUT", "intrastat.xlsx"),
			Sheet:        getEnv("INTRASTAT_SHEET", "Invoices"),
		},
		Database: DatabaseConfig{
			DSN:             getEnv("DB_URL", "file:intrastat-ledger.db"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 4),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Server: ServerConfig{
			GRPCAddr: getEnv("GRPC_ADDR", ":8080"),
		},
		Watch: WatchConfig{
			InboxDir: getEnv("INTRASTAT_INBOX", "./inbox"),
			Debounce: getEnvAsDuration("INTRASTAT_DEBOUNCE", 2*time.Second),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks every setting and reports all failures at once.
func (c *Config) Validate() error {
	v := NewValidator()
	v.Field("INTRASTAT_TARGET_CURRENCY", c.Pipeline.TargetCurrency, Required, CurrencyCode)
	v.Field("INTRASTAT_PERCENTAGE", c.Pipeline.Percentage, Between(0, 1))
	v.Field("INTRASTAT_WORKERS", c.Pipeline.Workers, Positive)
	v.Field("INTRASTAT_DOCUMENT_TIMEOUT", c.Pipeline.DocumentTimeout, Positive)
	v.Field("INTRASTAT_OUTPUT", c.Output.WorkbookPath, Required)
	v.Field("INTRASTAT_SHEET", c.Output.Sheet, Required, MaxLengthRule(31))
	v.Field("FX_TIMEOUT", c.FX.Timeout, Positive)
	v.Field("FX_RETRIES", c.FX.Retries, NonNegative)
	v.Field("FX_CACHE_CAPACITY", c.FX.CacheCapacity, Positive)
	if v.HasErrors() {
		return NewAppError(CodeConfig, v.ErrorMessage(), ErrInvalidInput)
	}
	return nil
}
