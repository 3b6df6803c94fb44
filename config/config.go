// Package config loads service configuration from environment variables or
// an optional config.yaml in the working directory.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
type Config struct {
	ServerAddr   string        `mapstructure:"SERVER_ADDR"`
	DatabaseDSN  string        `mapstructure:"DATABASE_DSN"`
	AIGatewayURL string        `mapstructure:"AI_GATEWAY_URL"`
	AIGatewayKey string        `mapstructure:"AI_GATEWAY_KEY"`
	AIModel      string        `mapstructure:"AI_MODEL"`
	HTTPTimeout  time.Duration `mapstructure:"HTTP_TIMEOUT"`
	LogLevel     string        `mapstructure:"LOG_LEVEL"`
	CORSEnabled  bool          `mapstructure:"CORS_ENABLED"`
}

// Load reads configuration from the given path (config.yaml) or environment
// variables; env vars win. An absent config file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Every key needs a default so Unmarshal sees env-only values.
	v.SetDefault("SERVER_ADDR", ":8080")
	v.SetDefault("DATABASE_DSN", "")
	v.SetDefault("AI_GATEWAY_URL", "")
	v.SetDefault("AI_GATEWAY_KEY", "")
	v.SetDefault("AI_MODEL", "google/gemini-2.5-flash-lite")
	v.SetDefault("HTTP_TIMEOUT", "15s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ENABLED", true)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}

	if config.DatabaseDSN == "" {
		return Config{}, fmt.Errorf("DATABASE_DSN is not set")
	}
	return config, nil
}
