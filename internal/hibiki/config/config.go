// Package config loads Hibiki's configuration from HIBIKI_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/bdobrica/Hibiki/common/crypto"
	"github.com/bdobrica/Hibiki/internal/hibiki/correlation"
	"github.com/bdobrica/Hibiki/internal/hibiki/gateway"
	"github.com/bdobrica/Hibiki/internal/hibiki/ratelimit"
)

// Prefix is prepended to every variable name.
const Prefix = "HIBIKI_"

// Config is the full runtime configuration.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080" validate:"required"`

	// DBPath is the SQLite file holding history, audit and sync state.
	DBPath string `env:"DB_PATH" envDefault:"hibiki.db" validate:"required"`
	// DatabaseURL moves execution history to PostgreSQL when set.
	DatabaseURL string `env:"DATABASE_URL" validate:"omitempty,url"`
	// MasterKey seals stored results (64 hex chars).
	MasterKey string `env:"MASTER_KEY" validate:"omitempty,hexadecimal,len=64"`

	// CatalogPath and RulesPath point at YAML documents; empty uses the
	// embedded copies.
	CatalogPath string `env:"CATALOG_PATH"`
	RulesPath   string `env:"RULES_PATH"`

	Matrix      Matrix      `envPrefix:"MATRIX_"`
	Correlation Correlation `envPrefix:"CORRELATION_"`
	RateLimit   RateLimit   `envPrefix:"RATE_LIMIT_"`
	Gateway     Gateway     `envPrefix:"GATEWAY_"`
	Retention   Retention   `envPrefix:"RETENTION_"`
}

// Matrix configures the transport.
type Matrix struct {
	Homeserver  string `env:"HOMESERVER" validate:"required,url"`
	UserID      string `env:"USER_ID" validate:"required,startswith=@"`
	AccessToken string `env:"ACCESS_TOKEN" validate:"required"`
	// BotRooms is "@bot:hs=!room:hs,@other:hs=!room2:hs".
	BotRooms  map[string]string `env:"BOT_ROOMS" envKeyValSeparator:"=" validate:"required,min=1,dive,keys,startswith=@,endkeys,startswith=!"`
	QueueSize int               `env:"QUEUE_SIZE" envDefault:"256" validate:"min=1"`
}

// Correlation configures response windows.
type Correlation struct {
	CheckInterval   time.Duration `env:"CHECK_INTERVAL" envDefault:"500ms" validate:"gt=0"`
	StabilityChecks int           `env:"STABILITY_CHECKS" envDefault:"12" validate:"min=1"`
	Timeout         time.Duration `env:"TIMEOUT" envDefault:"60s" validate:"gt=0"`
	StrictRouting   bool          `env:"STRICT_ROUTING"`
}

// RateLimit configures per-user throttling.
type RateLimit struct {
	Cooldown     time.Duration `env:"COOLDOWN" envDefault:"15s" validate:"min=0"`
	MaxPerWindow int           `env:"MAX_PER_WINDOW" envDefault:"0" validate:"min=0"`
	Window       time.Duration `env:"WINDOW" envDefault:"5m" validate:"gt=0"`
	Penalty      time.Duration `env:"PENALTY" envDefault:"0s" validate:"min=0"`
}

// Gateway configures result assembly.
type Gateway struct {
	DefaultTarget        string `env:"DEFAULT_TARGET"`
	MinInformativeLength int    `env:"MIN_INFORMATIVE_LENGTH" envDefault:"20" validate:"min=0"`
	MaxTextLength        int    `env:"MAX_TEXT_LENGTH" envDefault:"4000" validate:"min=100"`
}

// Retention configures the history pruning job.
type Retention struct {
	Schedule string        `env:"SCHEDULE" envDefault:"@hourly" validate:"required"`
	MaxAge   time.Duration `env:"MAX_AGE" envDefault:"720h" validate:"gt=0"`
	// LimiterIdle is how long an idle user stays in the rate limiter.
	LimiterIdle time.Duration `env:"LIMITER_IDLE" envDefault:"1h" validate:"gt=0"`
}

// Load reads the process environment.
func Load() (*Config, error) {
	return LoadFrom(env.ToMap(os.Environ()))
}

// LoadFrom reads configuration from environ instead of the process
// environment. It does not validate; call Validate or ValidateLocal.
func LoadFrom(environ map[string]string) (*Config, error) {
	var cfg Config
	err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      Prefix,
		Environment: environ,
	})
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ValidateLocal checks everything except the Matrix section, for commands
// that never connect.
func (c *Config) ValidateLocal() error {
	if err := validate.StructExcept(c, "Matrix"); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Sealer returns the result sealer for MasterKey.
func (c *Config) Sealer() (*crypto.Sealer, error) {
	if c.MasterKey == "" {
		return crypto.NewSealer(nil)
	}
	key, err := crypto.ParseMasterKey(c.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return crypto.NewSealer(key)
}

// RouterConfig converts the correlation section.
func (c *Config) RouterConfig() correlation.Config {
	return correlation.Config{
		CheckInterval:   c.Correlation.CheckInterval,
		StabilityChecks: c.Correlation.StabilityChecks,
		Timeout:         c.Correlation.Timeout,
		StrictRouting:   c.Correlation.StrictRouting,
	}
}

// LimiterConfig converts the rate limit section.
func (c *Config) LimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		Cooldown:     c.RateLimit.Cooldown,
		MaxPerWindow: c.RateLimit.MaxPerWindow,
		Window:       c.RateLimit.Window,
		Penalty:      c.RateLimit.Penalty,
	}
}

// GatewayConfig converts the gateway section.
func (c *Config) GatewayConfig() gateway.Config {
	return gateway.Config{
		DefaultTarget:        c.Gateway.DefaultTarget,
		MinInformativeLength: c.Gateway.MinInformativeLength,
		MaxTextLength:        c.Gateway.MaxTextLength,
	}
}
