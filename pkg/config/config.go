package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/mave-cms/tenantcore/pkg/logx"
)

// Prefix namespaces every environment variable, e.g. TENANTCORE_SERVER_PORT.
const Prefix = "TENANTCORE"

// Config is the full runtime configuration.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	Auth       AuthConfig
	TwoFactor  TwoFactorConfig `envconfig:"TWO_FACTOR"`
	Tenant     TenantConfig
	RBAC       RBACConfig
	Invitation InvitationConfig
	Notifx     NotifxConfig
}

type ServerConfig struct {
	Port        string `envconfig:"PORT" default:"8080"`
	CORSOrigins string `envconfig:"CORS_ORIGINS" default:"*"`
	BodyLimit   int    `envconfig:"BODY_LIMIT" default:"1048576"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`
	// LoginRateLimit is the number of login attempts allowed per IP per minute.
	LoginRateLimit int `envconfig:"LOGIN_RATE_LIMIT" default:"20"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver          string        `envconfig:"DRIVER" default:"postgres"`
	Host            string        `envconfig:"HOST" default:"localhost"`
	Port            int           `envconfig:"PORT" default:"5432"`
	User            string        `envconfig:"USER" default:"postgres"`
	Password        string        `envconfig:"PASSWORD"`
	Name            string        `envconfig:"NAME" default:"tenantcore"`
	SSLMode         string        `envconfig:"SSLMODE" default:"disable"`
	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME" default:"5m"`
}

// DSN renders the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Enabled  bool   `envconfig:"ENABLED" default:"true"`
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     int    `envconfig:"PORT" default:"6379"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
}

func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"console"`
	Colors bool   `envconfig:"COLORS" default:"true"`
	Caller bool   `envconfig:"CALLER" default:"false"`
}

// Logx converts the section into a logger configuration.
func (l LogConfig) Logx() *logx.Config {
	cfg := logx.DefaultConfig()
	cfg.Level = logx.ParseLevel(l.Level)
	cfg.Format = logx.ParseFormat(l.Format)
	cfg.EnableColors = l.Colors
	cfg.EnableCaller = l.Caller
	return cfg
}

type AuthConfig struct {
	JWT      JWTConfig
	Lockout  LockoutConfig
	Password PasswordConfig
}

type JWTConfig struct {
	AccessSecret  string        `envconfig:"SECRET"`
	RefreshSecret string        `envconfig:"REFRESH_SECRET"`
	Issuer        string        `envconfig:"ISSUER" default:"tenantcore"`
	Audience      string        `envconfig:"AUDIENCE" default:"tenantcore-api"`
	AccessTTL     time.Duration `envconfig:"ACCESS_TTL" default:"15m"`
	RefreshTTL    time.Duration `envconfig:"REFRESH_TTL" default:"720h"`
	StepUpTTL     time.Duration `envconfig:"STEP_UP_TTL" default:"5m"`
	ResetTTL      time.Duration `envconfig:"RESET_TTL" default:"1h"`
}

type LockoutConfig struct {
	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"5"`
	Duration    time.Duration `envconfig:"DURATION" default:"30m"`
}

type PasswordConfig struct {
	// Argon2 parameters; memory is in KiB.
	Memory      uint32 `envconfig:"ARGON2_MEMORY" default:"65536"`
	Iterations  uint32 `envconfig:"ARGON2_ITERATIONS" default:"2"`
	Parallelism uint8  `envconfig:"ARGON2_PARALLELISM" default:"1"`
	MinLength   int    `envconfig:"MIN_LENGTH" default:"8"`
}

type TwoFactorConfig struct {
	Issuer           string `envconfig:"ISSUER" default:"Mave CMS"`
	Skew             uint   `envconfig:"SKEW" default:"2"`
	BackupCodeCount  int    `envconfig:"BACKUP_CODE_COUNT" default:"8"`
	BackupCodeLength int    `envconfig:"BACKUP_CODE_LENGTH" default:"8"`
}

type TenantConfig struct {
	BaseDomain         string `envconfig:"BASE_DOMAIN" default:"localhost"`
	ReservedSubdomains string `envconfig:"RESERVED_SUBDOMAINS"`
	SuggestionLimit    int    `envconfig:"SUGGESTION_LIMIT" default:"5"`
	MaxGenerateAttempt int    `envconfig:"MAX_GENERATE_ATTEMPTS" default:"1000"`
}

// Reserved splits the operator supplied reserved list.
func (t TenantConfig) Reserved() []string {
	var out []string
	for _, s := range strings.Split(t.ReservedSubdomains, ",") {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

type RBACConfig struct {
	// CacheBackend is "redis" or "memory".
	CacheBackend string        `envconfig:"CACHE_BACKEND" default:"redis"`
	CacheTTL     time.Duration `envconfig:"CACHE_TTL" default:"5m"`
	SeedCatalog  bool          `envconfig:"SEED_CATALOG" default:"true"`
}

type InvitationConfig struct {
	TTL        time.Duration `envconfig:"TTL" default:"168h"`
	TokenBytes int           `envconfig:"TOKEN_BYTES" default:"32"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsDevelopment reports whether the process runs outside production.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "" || c.Environment == "development" || c.Environment == "test"
}

// Validate rejects configurations that cannot run safely.
func (c *Config) Validate() error {
	if c.Auth.JWT.AccessSecret == "" || c.Auth.JWT.RefreshSecret == "" {
		if !c.IsDevelopment() {
			return fmt.Errorf("config: %s_AUTH_JWT_SECRET and %s_AUTH_JWT_REFRESH_SECRET are required", Prefix, Prefix)
		}
		if c.Auth.JWT.AccessSecret == "" {
			c.Auth.JWT.AccessSecret = "dev-access-secret"
		}
		if c.Auth.JWT.RefreshSecret == "" {
			c.Auth.JWT.RefreshSecret = "dev-refresh-secret"
		}
	}
	if c.Auth.JWT.AccessSecret == c.Auth.JWT.RefreshSecret {
		return fmt.Errorf("config: access and refresh secrets must differ")
	}
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	switch c.RBAC.CacheBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("config: unknown rbac cache backend %q", c.RBAC.CacheBackend)
	}
	if c.RBAC.CacheBackend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("config: rbac redis cache requires redis to be enabled")
	}
	if c.Auth.Lockout.MaxAttempts < 1 {
		return fmt.Errorf("config: lockout max attempts must be positive")
	}
	return nil
}
