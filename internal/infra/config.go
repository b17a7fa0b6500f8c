package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv       string
	LogLevel     string
	Port         string
	StoreDriver  string
	DatabaseURL  string
	JWTSecret    string
	SeedBalances []string
	DBMaxConns   int

	WebhookSecret      string
	ProviderBaseURL    string
	ProviderAPIKey     string
	ProviderModel      string
	ProviderTimeout    time.Duration
	PublicBaseURL      string
	WebhookCallbackURL string

	UploadsDir      string
	UploadsPrefix   string
	GeneratedFolder string
	FetchTimeout    time.Duration
	FetchMaxBytes   int64

	CostTextToImage  int64
	CostImageToImage int64

	ClaimTTL               time.Duration
	MaxMaterializeAttempts int
	SettleWait             time.Duration
	SweepInterval          time.Duration
	SweepMinAge            time.Duration
	SweepConcurrency       int
	TaskTTL                time.Duration

	AllowedOrigins   []string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	publicBase := strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/")
	cfg := &Config{
		AppEnv:       getEnv("APP_ENV", "development"),
		LogLevel:     os.Getenv("LOG_LEVEL"),
		Port:         port,
		StoreDriver:  getEnv("STORE_DRIVER", StoreDriverPostgres),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		SeedBalances: splitList(os.Getenv("SEED_BALANCES")),
		DBMaxConns:   getEnvInt("DB_MAX_CONNS", 20),

		WebhookSecret:      os.Getenv("WEBHOOK_SECRET"),
		ProviderBaseURL:    getEnv("PROVIDER_BASE_URL", "https://api.kie.ai/api/v1"),
		ProviderAPIKey:     os.Getenv("PROVIDER_API_KEY"),
		ProviderModel:      getEnv("PROVIDER_MODEL", "google/nano-banana"),
		ProviderTimeout:    time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 30)),
		PublicBaseURL:      publicBase,
		WebhookCallbackURL: getEnv("WEBHOOK_CALLBACK_URL", publicBase+"/v1/webhooks/generation"),

		UploadsDir:      getEnv("UPLOADS_DIR", "./uploads"),
		UploadsPrefix:   getEnv("UPLOADS_PREFIX", "/uploads"),
		GeneratedFolder: getEnv("GENERATED_FOLDER", "nero/generated"),
		FetchTimeout:    time.Second * time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 60)),
		FetchMaxBytes:   int64(getEnvInt("FETCH_MAX_BYTES", 20<<20)),

		CostTextToImage:  int64(getEnvInt("COST_TEXT_TO_IMAGE", 1)),
		CostImageToImage: int64(getEnvInt("COST_IMAGE_TO_IMAGE", 2)),

		ClaimTTL:               time.Second * time.Duration(getEnvInt("CLAIM_TTL_SECONDS", 120)),
		MaxMaterializeAttempts: getEnvInt("MAX_MATERIALIZE_ATTEMPTS", 3),
		SettleWait:             time.Second * time.Duration(getEnvInt("SETTLE_WAIT_SECONDS", 30)),
		SweepInterval:          time.Second * time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 30)),
		SweepMinAge:            time.Second * time.Duration(getEnvInt("SWEEP_MIN_AGE_SECONDS", 60)),
		SweepConcurrency:       getEnvInt("SWEEP_CONCURRENCY", 4),
		TaskTTL:                time.Hour * time.Duration(getEnvInt("TASK_TTL_HOURS", 24)),

		AllowedOrigins:   splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 90)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
	}

	if cfg.StoreDriver != StoreDriverPostgres && cfg.StoreDriver != StoreDriverMemory {
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q", StoreDriverPostgres, StoreDriverMemory)
	}
	if cfg.StoreDriver == StoreDriverPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required")
	}
	if cfg.MaxMaterializeAttempts < 1 {
		cfg.MaxMaterializeAttempts = 1
	}

	return cfg, nil
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

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
