// Package config loads server configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	JWTSecret    string `mapstructure:"JWT_SECRET"`
	AuthDisabled bool   `mapstructure:"AUTH_DISABLED"`

	ConformanceDir string `mapstructure:"CONFORMANCE_DIR"`

	SearchDefaultCount int `mapstructure:"SEARCH_DEFAULT_COUNT"`
	SearchMaxCount     int `mapstructure:"SEARCH_MAX_COUNT"`

	OperationTimeoutSeconds int `mapstructure:"OPERATION_TIMEOUT_SECONDS"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("SEARCH_DEFAULT_COUNT", 20)
	v.SetDefault("SEARCH_MAX_COUNT", 1000)
	v.SetDefault("OPERATION_TIMEOUT_SECONDS", 30)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS",
		"DB_MIN_CONNS", "JWT_SECRET", "AUTH_DISABLED", "CONFORMANCE_DIR",
		"SEARCH_DEFAULT_COUNT", "SEARCH_MAX_COUNT",
		"OPERATION_TIMEOUT_SECONDS", "CORS_ORIGINS",
	} {
		v.BindEnv(key)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// OperationTimeout is the per-request deadline.
func (c *Config) OperationTimeout() time.Duration {
	return time.Duration(c.OperationTimeoutSeconds) * time.Second
}

// Validate checks the configuration is safe to run. Outside development,
// requests must be authenticated, so a JWT secret is mandatory unless auth
// is explicitly disabled.
func (c *Config) Validate() error {
	if c.OperationTimeoutSeconds <= 0 {
		return fmt.Errorf("OPERATION_TIMEOUT_SECONDS must be positive, got %d", c.OperationTimeoutSeconds)
	}
	if c.SearchMaxCount > 0 && c.SearchDefaultCount > c.SearchMaxCount {
		return fmt.Errorf("SEARCH_DEFAULT_COUNT %d exceeds SEARCH_MAX_COUNT %d", c.SearchDefaultCount, c.SearchMaxCount)
	}
	// Dev mode may run without a secret; the auth middleware then behaves
	// as if AUTH_DISABLED were set.
	if !c.AuthDisabled && c.JWTSecret == "" && !c.IsDev() {
		return fmt.Errorf("JWT_SECRET is required unless AUTH_DISABLED=true")
	}
	return nil
}
