package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// LogExporter selects where log records go when OpenTelemetry export is enabled.
type LogExporter string

const (
	LogExporterNone     LogExporter = "none"
	LogExporterStdout   LogExporter = "stdout"
	LogExporterOTLPHTTP LogExporter = "otlp-http"
	LogExporterOTLPGRPC LogExporter = "otlp-grpc"
)

// StoreType represents the supported token store backends.
type StoreType string

const (
	// StoreTypeAuto uses the OS keyring when it is reachable and falls back to a file.
	StoreTypeAuto    StoreType = "auto"
	StoreTypeKeyring StoreType = "keyring"
	StoreTypeFile    StoreType = "file"
	StoreTypeMemory  StoreType = "memory"
	StoreTypeNone    StoreType = "none"
)

// Default configuration values
const (
	DefaultConfigLogFormat          = LogFormatText
	DefaultConfigLogExporter        = LogExporterNone
	DefaultConfigEnv                = "prod"
	DefaultConfigStoreType          = StoreTypeAuto
	DefaultConfigKeyringService     = "realmauth"
	DefaultConfigInteractiveTimeout = 2 * time.Minute
	DefaultConfigHTTPTimeout        = 30 * time.Second
	DefaultConfigShutdownTimeout    = 5 * time.Second
)

// AuthConfig holds the identity provider defaults applied to every command.
type AuthConfig struct {
	Env          string `json:"env" default:"prod" validate:"oneof=dev preprod prod"`
	BaseURL      string `json:"base_url,omitempty" validate:"omitempty,url"`
	Realm        string `json:"realm,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	SecretFile   string `json:"secret_file,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`

	// RefreshThreshold is how long before expiry a token is refreshed.
	RefreshThreshold time.Duration `json:"refresh_threshold" validate:"gte=0"`

	// InteractiveTimeout bounds the browser login.
	InteractiveTimeout time.Duration `json:"interactive_timeout" default:"2m" validate:"gt=0"`

	// HTTPTimeout bounds each request to the provider.
	HTTPTimeout time.Duration `json:"http_timeout" default:"30s" validate:"gt=0"`

	// Discovery takes endpoints from the provider's OpenID configuration.
	Discovery bool `json:"discovery"`
}

// StoreConfig describes where records are persisted.
type StoreConfig struct {
	Type StoreType `json:"type" default:"auto" validate:"required,oneof=auto keyring file memory none"`

	// File is the token file for file storage (and the auto fallback).
	File string `json:"file,omitempty"`

	// KeyringService is the service name of the keyring entry.
	KeyringService string `json:"keyring_service" default:"realmauth"`
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for flushing telemetry on exit.
	Timeout time.Duration `json:"timeout" default:"5s"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel    slog.Level     `json:"log_level"`
	LogFormat   LogFormat      `json:"log_format" default:"text" validate:"oneof=text json"`
	LogExporter LogExporter    `json:"log_exporter" default:"none" validate:"oneof=none stdout otlp-http otlp-grpc"`
	Auth        AuthConfig     `json:"auth"`
	Store       StoreConfig    `json:"store"`
	Shutdown    ShutdownConfig `json:"shutdown"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields from the struct tags, then derives the
// defaults that depend on the host.
func (c *Config) ApplyDefaults() error {
	if err := defaults.Set(c); err != nil {
		return err
	}

	// Dynamic defaults based on store type
	switch c.Store.Type {
	case StoreTypeFile, StoreTypeAuto:
		if c.Store.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				if c.Store.Type == StoreTypeFile {
					return fmt.Errorf("store.file required (auto-detect failed: %w)", err)
				}
				// auto can still use the keyring
				return nil
			}
			c.Store.File = filepath.Join(configDir, "realmauth", "tokens.json")
		}
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Store.Type == StoreTypeFile && c.Store.File == "" {
		return errors.New("file path required for file storage")
	}
	return nil
}
