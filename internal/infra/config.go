package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Ledger, history, provider and charge policy selectors.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"

	ProviderHTTP      = "http"
	ProviderSynthetic = "synthetic"

	ChargeOnSuccess      = "on-success"
	ChargeReserveUpfront = "reserve-upfront"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv    string
	LogLevel  string
	Port      string
	JWTSecret string

	DatabaseURL      string
	LedgerBackend    string
	MemoryLedgerSeed int64
	HistoryBackend   string
	SQLitePath       string
	RedisURL         string

	StoragePath    string
	StorageBaseURL string
	GeoIPDBPath    string

	EnhanceProvider     string
	EnhanceBaseURL      string
	EnhanceAPIKey       string
	EnhanceModel        string
	EnhanceTimeout      time.Duration
	EnhanceMaxAttempts  int
	EnhanceRetryBackoff time.Duration
	SyntheticLatency    time.Duration

	ConcurrencyLimit       int
	WorkerPoolSize         int
	ChargePolicy           string
	HaltOnInsufficient     bool
	PreprocessMaxBytes     int
	PreprocessMaxPixels    int
	MaxUploadBytes         int64
	MaxBatchSize           int
	PricingFile            string
	ArchiveFailedOriginals bool

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:    getEnv("APP_ENV", "development"),
		LogLevel:  os.Getenv("LOG_LEVEL"),
		Port:      port,
		JWTSecret: os.Getenv("JWT_SECRET"),

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		LedgerBackend:    strings.ToLower(getEnv("LEDGER_BACKEND", BackendPostgres)),
		MemoryLedgerSeed: int64(getEnvInt("MEMORY_LEDGER_SEED", 100)),
		HistoryBackend:   strings.ToLower(getEnv("HISTORY_BACKEND", BackendPostgres)),
		SQLitePath:       getEnv("SQLITE_PATH", "./data/history.db"),
		RedisURL:         os.Getenv("REDIS_URL"),

		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: strings.TrimRight(getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"), "/"),
		GeoIPDBPath:    os.Getenv("GEOIP_DB_PATH"),

		EnhanceProvider:     strings.ToLower(getEnv("ENHANCE_PROVIDER", ProviderSynthetic)),
		EnhanceBaseURL:      os.Getenv("ENHANCE_BASE_URL"),
		EnhanceAPIKey:       os.Getenv("ENHANCE_API_KEY"),
		EnhanceModel:        getEnv("ENHANCE_MODEL", "enhance-v1"),
		EnhanceTimeout:      time.Second * time.Duration(getEnvInt("ENHANCE_TIMEOUT_SECONDS", 90)),
		EnhanceMaxAttempts:  getEnvInt("ENHANCE_MAX_ATTEMPTS", 1),
		EnhanceRetryBackoff: getEnvDuration("ENHANCE_RETRY_BACKOFF", 2*time.Second),
		SyntheticLatency:    getEnvDuration("SYNTHETIC_LATENCY", 1500*time.Millisecond),

		ConcurrencyLimit:       getEnvInt("CONCURRENCY_LIMIT", 4),
		WorkerPoolSize:         getEnvInt("WORKER_POOL_SIZE", 0),
		ChargePolicy:           strings.ToLower(getEnv("CHARGE_POLICY", ChargeOnSuccess)),
		HaltOnInsufficient:     getEnvBool("HALT_ON_INSUFFICIENT", true),
		PreprocessMaxBytes:     getEnvInt("PREPROCESS_MAX_BYTES", 4<<20),
		PreprocessMaxPixels:    getEnvInt("PREPROCESS_MAX_PIXELS", 50_000_000),
		MaxUploadBytes:         int64(getEnvInt("MAX_UPLOAD_BYTES", 64<<20)),
		MaxBatchSize:           getEnvInt("MAX_BATCH_SIZE", 20),
		PricingFile:            os.Getenv("PRICING_FILE"),
		ArchiveFailedOriginals: getEnvBool("ARCHIVE_FAILED_ORIGINALS", false),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:      getEnvList("CORS_ALLOWED_ORIGINS"),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LedgerBackend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("LEDGER_BACKEND must be %q or %q", BackendPostgres, BackendMemory)
	}
	switch c.HistoryBackend {
	case BackendPostgres, BackendSQLite:
	default:
		return fmt.Errorf("HISTORY_BACKEND must be %q or %q", BackendPostgres, BackendSQLite)
	}
	if c.DatabaseURL == "" && (c.LedgerBackend == BackendPostgres || c.HistoryBackend == BackendPostgres) {
		return fmt.Errorf("DATABASE_URL is required for the postgres backend")
	}
	switch c.EnhanceProvider {
	case ProviderSynthetic:
	case ProviderHTTP:
		if c.EnhanceBaseURL == "" {
			return fmt.Errorf("ENHANCE_BASE_URL is required for the http provider")
		}
	default:
		return fmt.Errorf("ENHANCE_PROVIDER must be %q or %q", ProviderHTTP, ProviderSynthetic)
	}
	switch c.ChargePolicy {
	case ChargeOnSuccess, ChargeReserveUpfront:
	default:
		return fmt.Errorf("CHARGE_POLICY must be %q or %q", ChargeOnSuccess, ChargeReserveUpfront)
	}
	if c.ConcurrencyLimit < 1 {
		return fmt.Errorf("CONCURRENCY_LIMIT must be positive")
	}
	if c.WorkerPoolSize != 0 && c.WorkerPoolSize < c.ConcurrencyLimit {
		return fmt.Errorf("WORKER_POOL_SIZE must be at least CONCURRENCY_LIMIT")
	}
	if c.PreprocessMaxPixels < 1 {
		return fmt.Errorf("PREPROCESS_MAX_PIXELS must be positive")
	}
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("MAX_BATCH_SIZE must be positive")
	}
	return nil
}

// UsesPostgres reports whether any backend needs a database pool.
func (c *Config) UsesPostgres() bool {
	return c.LedgerBackend == BackendPostgres || c.HistoryBackend == BackendPostgres
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
