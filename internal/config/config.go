// Package config loads the control-plane service configuration. Non-secret
// settings may come from an optional YAML file; environment variables
// override the file, and secrets come from the environment only.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"wirewarden/internal/keybox"
)

// Config holds everything wirewardend needs to run.
type Config struct {
	DatabaseURL  string `yaml:"database_url"`
	BindAddr     string `yaml:"bind_addr"`
	PublicURL    string `yaml:"public_url"`
	UIOrigin     string `yaml:"ui_origin"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Env-only secrets.
	JWTSecret string                 `yaml:"-"`
	KeySecret [keybox.SecretLen]byte `yaml:"-"`
}

// Load builds the configuration from defaults, the optional YAML file at
// path (empty path skips the file), and the environment, in that order.
func Load(path string) (Config, error) {
	cfg := Config{
		DatabaseURL: "wirewarden.db",
		BindAddr:    "127.0.0.1:8080",
		PublicURL:   "http://127.0.0.1:8080",
		UIOrigin:    "http://localhost:5173",
		LogLevel:    "info",
		LogFormat:   "text",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	overrideEnv(&cfg.DatabaseURL, "DATABASE_URL")
	overrideEnv(&cfg.BindAddr, "BIND_ADDR")
	overrideEnv(&cfg.PublicURL, "PUBLIC_URL")
	overrideEnv(&cfg.UIOrigin, "UI_ORIGIN")
	overrideEnv(&cfg.LogLevel, "LOG_LEVEL")
	overrideEnv(&cfg.LogFormat, "LOG_FORMAT")
	overrideEnv(&cfg.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("missing required environment variable: JWT_SECRET")
	}

	hexSecret := os.Getenv("WG_KEY_SECRET")
	if hexSecret == "" {
		return Config{}, errors.New("missing required environment variable: WG_KEY_SECRET")
	}
	secret, err := keybox.ParseSecret(hexSecret)
	if err != nil {
		return Config{}, fmt.Errorf("WG_KEY_SECRET: %w", err)
	}
	cfg.KeySecret = secret

	return cfg, nil
}

func overrideEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
