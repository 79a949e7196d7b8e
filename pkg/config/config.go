package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/portal/pkg/graph"
	"github.com/platinummonkey/portal/pkg/identity"
	"github.com/platinummonkey/portal/pkg/observability"
)

// Prefix is the environment prefix for everything except the Entra ID
// settings, which keep their AZURE_ names
const Prefix = "PORTAL"

// ErrDatabaseRequired is returned by RequireDatabase when PORTAL_DB_URL is unset
var ErrDatabaseRequired = errors.New("PORTAL_DB_URL is required")

// Config holds all application configuration
type Config struct {
	// Azure is loaded from AZURE_AUDIENCE, AZURE_TENANT_ID, AZURE_BASE_URL
	Azure identity.Config `ignored:"true"`

	Server    ServerConfig    `envconfig:"SERVER"`
	Database  DatabaseConfig  `envconfig:"DB"`
	Redis     RedisConfig     `envconfig:"REDIS"`
	Cache     CacheConfig     `envconfig:"CACHE"`
	RateLimit RateLimitConfig `envconfig:"RATE_LIMIT"`
	Activity  ActivityConfig  `envconfig:"ACTIVITY"`
	Graph     graph.Config    `envconfig:"GRAPH"`

	ObservabilityConfig

	// RoleTimeout bounds one role resolution
	RoleTimeout time.Duration `envconfig:"ROLE_TIMEOUT" default:"12s" validate:"min=100ms"`

	// StaticDir holds the client bundle served behind the access gate
	StaticDir string `envconfig:"STATIC_DIR"`

	// RoutesFile is the YAML route requirements table, hot-reloaded
	RoutesFile string `envconfig:"ROUTES_FILE"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	Port            string        `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout     time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `envconfig:"HEALTH_PORT" default:"9090" validate:"required,numeric,nefield=Port"`

	CORSOrigins []string `envconfig:"CORS_ORIGINS"`

	// TokenCookie lets browsers present the token as a cookie on page loads
	TokenCookie string `envconfig:"TOKEN_COOKIE" default:"portal_token"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL         string        `envconfig:"URL"`
	ReplicaURLs string        `envconfig:"REPLICA_URLS"`
	MaxConns    int           `envconfig:"MAX_CONNS" default:"20" validate:"gte=1"`
	MinConns    int           `envconfig:"MIN_CONNS" default:"2" validate:"gte=0,ltefield=MaxConns"`
	Timeout     time.Duration `envconfig:"TIMEOUT" default:"5s"`
}

// RedisConfig holds the optional shared Redis
type RedisConfig struct {
	URL        string `envconfig:"URL"`
	Password   string `envconfig:"PASSWORD"`
	DB         int    `envconfig:"DB" validate:"gte=0"`
	MaxRetries int    `envconfig:"MAX_RETRIES" default:"3"`
	PoolSize   int    `envconfig:"POOL_SIZE" default:"10"`
}

// Enabled reports whether a Redis URL is configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// CacheConfig holds role cache settings
type CacheConfig struct {
	Enabled    bool          `envconfig:"ENABLED" default:"false"`
	TTL        time.Duration `envconfig:"TTL" default:"30s" validate:"min=1s"`
	MaxEntries int           `envconfig:"MAX_ENTRIES" default:"1024" validate:"gte=1"`
}

// RateLimitConfig holds API rate limits
type RateLimitConfig struct {
	Enabled       bool `envconfig:"ENABLED" default:"true"`
	UserPerMinute int  `envconfig:"USER_PER_MINUTE" default:"1000" validate:"gte=1"`
	UserBurst     int  `envconfig:"USER_BURST" default:"50" validate:"gte=0"`
	AnonPerMinute int  `envconfig:"ANON_PER_MINUTE" default:"100" validate:"gte=1"`
	AnonBurst     int  `envconfig:"ANON_BURST" default:"10" validate:"gte=0"`
	FailOpen      bool `envconfig:"FAIL_OPEN" default:"true"`
}

// ActivityConfig holds login-activity retention settings
type ActivityConfig struct {
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s"`
	RetentionEnabled  bool          `envconfig:"RETENTION_ENABLED" default:"true"`
	Retention         time.Duration `envconfig:"RETENTION" default:"2160h" validate:"min=1h"`
	RetentionSchedule string        `envconfig:"RETENTION_SCHEDULE" default:"30 3 * * *" validate:"required"`
	Archive           ArchiveConfig `envconfig:"ARCHIVE"`
}

// ArchiveConfig holds the S3 destination for purged login activity
type ArchiveConfig struct {
	Enabled      bool   `envconfig:"ENABLED" default:"false"`
	Bucket       string `envconfig:"BUCKET" validate:"required_if=Enabled true"`
	Prefix       string `envconfig:"PREFIX" default:"portal"`
	Region       string `envconfig:"REGION" default:"us-east-1"`
	Endpoint     string `envconfig:"ENDPOINT" validate:"omitempty,url"`
	AccessKey    string `envconfig:"ACCESS_KEY"`
	SecretKey    string `envconfig:"SECRET_KEY" validate:"required_with=AccessKey"`
	UsePathStyle bool   `envconfig:"USE_PATH_STYLE" default:"false"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel `envconfig:"LOG_LEVEL" default:"info"`
	MetricsEnabled bool                   `envconfig:"METRICS_ENABLED" default:"true"`

	OTelEnabled        bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTelEndpoint       string `envconfig:"OTEL_ENDPOINT" default:"localhost:4317" validate:"required_if=OTelEnabled true"`
	OTelServiceName    string `envconfig:"OTEL_SERVICE_NAME" default:"portal" validate:"required_if=OTelEnabled true"`
	OTelServiceVersion string `envconfig:"OTEL_SERVICE_VERSION" default:"1.0.0"`
	OTelInsecure       bool   `envconfig:"OTEL_INSECURE" default:"true"`
}

// OTel converts the settings for observability.InitOTel
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
	}
}

// Load reads and validates configuration from the environment
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := envconfig.Process("AZURE", &cfg.Azure); err != nil {
		return nil, fmt.Errorf("failed to load AZURE configuration: %w", err)
	}

	if cfg.Graph.TenantID == "" {
		cfg.Graph.TenantID = cfg.Azure.TenantID
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct rules and the rules that span sections
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return describe(err)
	}

	if _, err := cron.ParseStandard(c.Activity.RetentionSchedule); err != nil {
		return fmt.Errorf("PORTAL_ACTIVITY_RETENTION_SCHEDULE: %w", err)
	}
	if c.Activity.Archive.Enabled && !c.Activity.RetentionEnabled {
		return errors.New("PORTAL_ACTIVITY_ARCHIVE_ENABLED requires PORTAL_ACTIVITY_RETENTION_ENABLED")
	}
	return nil
}

// RequireDatabase fails when no database URL is configured
func (c *Config) RequireDatabase() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return ErrDatabaseRequired
	}
	return nil
}

// describe flattens validator errors into one sorted message
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		msgs = append(msgs, fmt.Sprintf("%s fails %s", strings.TrimPrefix(fe.Namespace(), "Config."), rule))
	}
	sort.Strings(msgs)
	return errors.New(strings.Join(msgs, "; "))
}
