package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix namespaces every environment variable the service reads.
	EnvPrefix = "anchorline"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Provider     ProviderConfig
	Outbox       OutboxConfig
	Evidence     EvidenceConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ANCHORLINE_APP_ENV" default:"dev"`
	Port         string `envconfig:"ANCHORLINE_APP_PORT" default:"8086"`
	LogLevel     string `envconfig:"ANCHORLINE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ANCHORLINE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ANCHORLINE_SERVICE_KIND" default:"outbox-worker"`
}

const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

type DBConfig struct {
	// DSN is a Postgres connection string, or a file path when Driver is
	// sqlite (the embedded fallback store).
	DSN    string `envconfig:"ANCHORLINE_DB_DSN"`
	Driver string `envconfig:"ANCHORLINE_DB_DRIVER" default:"postgres"`

	MaxOpenConns    int           `envconfig:"ANCHORLINE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ANCHORLINE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ANCHORLINE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ANCHORLINE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (db *DBConfig) validate() error {
	driver := strings.TrimSpace(strings.ToLower(db.Driver))
	switch driver {
	case DBDriverPostgres, DBDriverSQLite:
		db.Driver = driver
	default:
		return fmt.Errorf("unsupported db driver %q (postgres or sqlite)", db.Driver)
	}
	if db.DSN == "" {
		return fmt.Errorf("ANCHORLINE_DB_DSN is required")
	}
	return nil
}

type RedisConfig struct {
	// URL is optional: when empty, the duplicate-delivery idempotency guard
	// is disabled and handlers rely on their own idempotence alone.
	URL            string        `envconfig:"ANCHORLINE_REDIS_URL"`
	PoolSize       int           `envconfig:"ANCHORLINE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns   int           `envconfig:"ANCHORLINE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout    time.Duration `envconfig:"ANCHORLINE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout    time.Duration `envconfig:"ANCHORLINE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout   time.Duration `envconfig:"ANCHORLINE_REDIS_WRITE_TIMEOUT" default:"5s"`
	IdempotencyTTL time.Duration `envconfig:"ANCHORLINE_REDIS_IDEMPOTENCY_TTL" default:"720h"`
}

// Enabled reports whether a Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != ""
}

type ProviderConfig struct {
	Endpoint       string        `envconfig:"ANCHORLINE_PROVIDER_ENDPOINT" default:"http://localhost:8545"`
	Network        string        `envconfig:"ANCHORLINE_PROVIDER_NETWORK" default:"etherlink-mainnet"`
	RequestTimeout time.Duration `envconfig:"ANCHORLINE_PROVIDER_REQUEST_TIMEOUT" default:"10s"`
	ReceiptTimeout time.Duration `envconfig:"ANCHORLINE_PROVIDER_RECEIPT_TIMEOUT" default:"120s"`
	AnchorFrom     string        `envconfig:"ANCHORLINE_PROVIDER_ANCHOR_FROM"`
}

type OutboxConfig struct {
	BatchSize     int           `envconfig:"ANCHORLINE_OUTBOX_BATCH_SIZE" default:"50"`
	PollInterval  time.Duration `envconfig:"ANCHORLINE_OUTBOX_POLL_INTERVAL" default:"10s"`
	MaxAttempts   int           `envconfig:"ANCHORLINE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	BaseDelay     time.Duration `envconfig:"ANCHORLINE_OUTBOX_BASE_DELAY" default:"500ms"`
	MaxDelay      time.Duration `envconfig:"ANCHORLINE_OUTBOX_MAX_DELAY" default:"60s"`
	RetentionDays int           `envconfig:"ANCHORLINE_OUTBOX_RETENTION_DAYS" default:"30"`
}

type EvidenceConfig struct {
	// Path is the JSONL evidence log destination.
	Path string `envconfig:"ANCHORLINE_EVIDENCE_PATH" default:"anchorline_evidence.jsonl"`
	// AllowUnlocked permits appending without the advisory file lock when
	// acquisition fails. Degraded mode: every unlocked append is logged.
	AllowUnlocked bool `envconfig:"ANCHORLINE_EVIDENCE_ALLOW_UNLOCKED" default:"false"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ANCHORLINE_AUTO_MIGRATE" default:"false"`
}
