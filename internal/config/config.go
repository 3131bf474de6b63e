// Package config loads and validates the engine and server configuration
// from config file, environment and flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	// Upstream site
	Hosts        []string `mapstructure:"hosts" validate:"required,min=1"`
	AllowedHosts []string `mapstructure:"allowed_hosts"`

	// Fetch budgets and retry policy
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	PerAttempt        time.Duration `mapstructure:"per_attempt"`
	Retries           int           `mapstructure:"retries" validate:"gte=0"`
	BackoffBase       time.Duration `mapstructure:"backoff_base" validate:"gt=0"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" validate:"gte=1"`
	BackoffCap        time.Duration `mapstructure:"backoff_cap" validate:"gt=0"`
	MinBodyBytes      int           `mapstructure:"min_body_bytes" validate:"gt=0"`
	MaxConcurrent     int           `mapstructure:"max_concurrent" validate:"gt=0"`

	// Response cache
	CacheCapacity int           `mapstructure:"cache_capacity" validate:"gt=0"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl" validate:"gt=0"`

	// Identities
	IdentitiesFile string `mapstructure:"identities_file"`

	// Outbound proxy applied to identities that do not carry their own
	Proxy string `mapstructure:"proxy"`

	// Rendering strategy
	RenderEnabled  bool   `mapstructure:"render_enabled"`
	RenderSessions int    `mapstructure:"render_sessions" validate:"gt=0"`
	ChromePath     string `mapstructure:"chrome_path"`

	// Challenge-solving strategy
	SolverEnabled  bool `mapstructure:"solver_enabled"`
	SolverPoolSize int  `mapstructure:"solver_pool_size" validate:"gt=0"`

	// API server
	ListenAddr    string `mapstructure:"listen_addr" validate:"required"`
	RatePerMinute int    `mapstructure:"rate_per_minute" validate:"gte=0"`

	// Logging
	Debug   bool `mapstructure:"debug"`
	Quiet   bool `mapstructure:"quiet"`
	LogJSON bool `mapstructure:"log_json"`
}

// SetDefaults registers every default on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("hosts", []string{"mangatek.com"})
	v.SetDefault("allowed_hosts", []string{})
	v.SetDefault("identities_file", "")
	v.SetDefault("proxy", "")
	v.SetDefault("chrome_path", "")
	v.SetDefault("debug", false)
	v.SetDefault("quiet", false)
	v.SetDefault("log_json", false)
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("per_attempt", 0)
	v.SetDefault("retries", 1)
	v.SetDefault("backoff_base", 500*time.Millisecond)
	v.SetDefault("backoff_multiplier", 2.0)
	v.SetDefault("backoff_cap", 8*time.Second)
	v.SetDefault("min_body_bytes", 50)
	v.SetDefault("max_concurrent", 8)
	v.SetDefault("cache_capacity", 1024)
	v.SetDefault("cache_ttl", 5*time.Minute)
	v.SetDefault("render_enabled", true)
	v.SetDefault("render_sessions", 2)
	v.SetDefault("solver_enabled", true)
	v.SetDefault("solver_pool_size", 2)
	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("rate_per_minute", 15)
}

// Load unmarshals and validates the configuration from a prepared viper
// instance.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		var invalid []string
		for _, fe := range err.(validator.ValidationErrors) {
			invalid = append(invalid, fmt.Sprintf("%s (%s)", strings.ToLower(fe.Field()), fe.Tag()))
		}
		return Config{}, fmt.Errorf("invalid config: %s", strings.Join(invalid, ", "))
	}
	return cfg, nil
}
