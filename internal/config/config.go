package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Provide),
	fx.Provide(NewPresetHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	AdminToken  string

	OTLPEndpoint string
	SentryDSN    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBRetryAttempts   int

	Redis        RedisConfig
	RateLimit    RateLimitConfig
	Idempotency  IdempotencyConfig
	Subscription SubscriptionConfig
	Plans        PlanCaps
	Stripe       StripeConfig
	Artifacts    ArtifactConfig
	Presets      PresetFileConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillAmount   int
	RefillInterval time.Duration
}

type IdempotencyConfig struct {
	TTL time.Duration
}

type SubscriptionConfig struct {
	GraceDays      int
	BillingCycle   time.Duration
	SweepEnabled   bool
	SweepInterval  time.Duration
	StatusCacheTTL time.Duration
}

// Caps are per-period ceilings. A value <= 0 means unbounded.
type Caps struct {
	Minutes     int64 `json:"minutes"`
	Jobs        int64 `json:"jobs"`
	EgressBytes int64 `json:"egress_bytes"`
}

type PlanCaps struct {
	Standard   Caps
	Pro        Caps
	Enterprise Caps
}

type StripeConfig struct {
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration
	PriceStandard    string
	PricePro         string
	PriceEnterprise  string
	SuccessURL       string
	CancelURL        string
}

// Configured reports whether webhook ingress can verify Stripe signatures.
func (c StripeConfig) Configured() bool {
	return strings.TrimSpace(c.WebhookSecret) != ""
}

type ArtifactConfig struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	URLTTL       time.Duration
	UsePathStyle bool
}

type PresetFileConfig struct {
	Name  string
	Paths []string
}

const gib = int64(1) << 30

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "accessflow"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		AdminToken:   strings.TrimSpace(getenv("ADMIN_TOKEN", "")),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		SentryDSN:    strings.TrimSpace(getenv("SENTRY_DSN", "")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "accessflow"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME_SECONDS", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME_SECONDS", 60),
		DBRetryAttempts:   getenvInt("DATABASE_RETRY_ATTEMPTS", 3),

		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
			PoolSize: getenvInt("REDIS_POOL_SIZE", 20),
			Timeout:  time.Duration(getenvInt("REDIS_TIMEOUT_MS", 2000)) * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Enabled:        getenvBool("RATE_LIMIT_ENABLED", true),
			Capacity:       getenvInt("RATE_LIMIT_CAPACITY", 60),
			RefillAmount:   getenvInt("RATE_LIMIT_REFILL_AMOUNT", 60),
			RefillInterval: time.Duration(getenvInt("RATE_LIMIT_REFILL_INTERVAL_SECONDS", 60)) * time.Second,
		},
		Idempotency: IdempotencyConfig{
			TTL: time.Duration(getenvInt("IDEMPOTENCY_TTL_HOURS", 24)) * time.Hour,
		},
		Subscription: SubscriptionConfig{
			GraceDays:      getenvInt("SUBSCRIPTION_GRACE_DAYS", 7),
			BillingCycle:   time.Duration(getenvInt("SUBSCRIPTION_BILLING_CYCLE_DAYS", 30)) * 24 * time.Hour,
			SweepEnabled:   getenvBool("SUBSCRIPTION_SWEEP_ENABLED", true),
			SweepInterval:  time.Duration(getenvInt("SUBSCRIPTION_SWEEP_INTERVAL_SECONDS", 300)) * time.Second,
			StatusCacheTTL: time.Duration(getenvInt("TENANT_STATUS_CACHE_TTL_SECONDS", 30)) * time.Second,
		},
		Plans: PlanCaps{
			Standard: Caps{
				Minutes:     getenvInt64("PLAN_STANDARD_MINUTES", 1000),
				Jobs:        getenvInt64("PLAN_STANDARD_JOBS", 200),
				EgressBytes: getenvInt64("PLAN_STANDARD_EGRESS_BYTES", 50*gib),
			},
			Pro: Caps{
				Minutes:     getenvInt64("PLAN_PRO_MINUTES", 10000),
				Jobs:        getenvInt64("PLAN_PRO_JOBS", 2000),
				EgressBytes: getenvInt64("PLAN_PRO_EGRESS_BYTES", 500*gib),
			},
			Enterprise: Caps{
				Minutes:     getenvInt64("PLAN_ENTERPRISE_MINUTES", 0),
				Jobs:        getenvInt64("PLAN_ENTERPRISE_JOBS", 0),
				EgressBytes: getenvInt64("PLAN_ENTERPRISE_EGRESS_BYTES", 0),
			},
		},
		Stripe: StripeConfig{
			SecretKey:        strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret:    strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			WebhookTolerance: time.Duration(getenvInt("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300)) * time.Second,
			PriceStandard:    strings.TrimSpace(getenv("STRIPE_PRICE_STANDARD", "")),
			PricePro:         strings.TrimSpace(getenv("STRIPE_PRICE_PRO", "")),
			PriceEnterprise:  strings.TrimSpace(getenv("STRIPE_PRICE_ENTERPRISE", "")),
			SuccessURL:       getenv("STRIPE_CHECKOUT_SUCCESS_URL", "http://localhost:3000/billing/success"),
			CancelURL:        getenv("STRIPE_CHECKOUT_CANCEL_URL", "http://localhost:3000/billing/cancel"),
		},
		Artifacts: ArtifactConfig{
			Bucket:       strings.TrimSpace(getenv("ARTIFACT_BUCKET", "")),
			Region:       getenv("AWS_REGION", "us-east-1"),
			Endpoint:     strings.TrimSpace(getenv("S3_ENDPOINT", "")),
			AccessKey:    strings.TrimSpace(getenv("S3_ACCESS_KEY_ID", "")),
			SecretKey:    strings.TrimSpace(getenv("S3_SECRET_ACCESS_KEY", "")),
			URLTTL:       time.Duration(getenvInt("ARTIFACT_URL_TTL_MINUTES", 60)) * time.Minute,
			UsePathStyle: getenvBool("S3_USE_PATH_STYLE", false),
		},
		Presets: PresetFileConfig{
			Name:  getenv("PRESETS_FILE", "presets"),
			Paths: parseList(getenv("PRESETS_PATHS", "/var/lib/accessflow/config,/etc/accessflow,.")),
		},
	}

	return cfg
}

// Provide loads and validates configuration. Invalid configuration aborts startup.
func Provide() (Config, error) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.RateLimit.Enabled {
		if c.RateLimit.Capacity <= 0 {
			errs = append(errs, errors.New("RATE_LIMIT_CAPACITY must be positive"))
		}
		if c.RateLimit.RefillAmount <= 0 {
			errs = append(errs, errors.New("RATE_LIMIT_REFILL_AMOUNT must be positive"))
		}
		if c.RateLimit.RefillInterval <= 0 {
			errs = append(errs, errors.New("RATE_LIMIT_REFILL_INTERVAL_SECONDS must be positive"))
		}
	}
	if c.Idempotency.TTL <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_TTL_HOURS must be positive"))
	}
	if c.Subscription.GraceDays < 0 {
		errs = append(errs, errors.New("SUBSCRIPTION_GRACE_DAYS cannot be negative"))
	}
	if c.IsProduction() && strings.TrimSpace(c.DBPassword) == "" {
		errs = append(errs, errors.New("DATABASE_PASSWORD is required in production"))
	}
	return errors.Join(errs...)
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
