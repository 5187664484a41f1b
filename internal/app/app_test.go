package app

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/florianilch/realmauth/internal/auth"
	"github.com/florianilch/realmauth/internal/autherr"
)

func TestDefault(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/home/tester/.config")
	t.Setenv("HOME", "/home/tester")

	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, LogFormatText, cfg.LogFormat)
	assert.Equal(t, LogExporterNone, cfg.LogExporter)
	assert.Equal(t, DefaultConfigEnv, cfg.Auth.Env)
	assert.Equal(t, DefaultConfigInteractiveTimeout, cfg.Auth.InteractiveTimeout)
	assert.Equal(t, DefaultConfigHTTPTimeout, cfg.Auth.HTTPTimeout)
	assert.Equal(t, DefaultConfigStoreType, cfg.Store.Type)
	assert.Equal(t, DefaultConfigKeyringService, cfg.Store.KeyringService)
	assert.Equal(t, DefaultConfigShutdownTimeout, cfg.Shutdown.Timeout)
	assert.Equal(t, "/home/tester/.config/realmauth/tokens.json", cfg.Store.File)
	require.NoError(t, cfg.Validate())
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		LogFormat: LogFormatJSON,
		Auth:      AuthConfig{Env: "dev", InteractiveTimeout: time.Second},
		Store:     StoreConfig{Type: StoreTypeFile, File: "/tmp/tokens.json"},
	}
	require.NoError(t, cfg.ApplyDefaults())

	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
	assert.Equal(t, "dev", cfg.Auth.Env)
	assert.Equal(t, time.Second, cfg.Auth.InteractiveTimeout)
	assert.Equal(t, "/tmp/tokens.json", cfg.Store.File)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown env", func(c *Config) { c.Auth.Env = "staging" }},
		{"invalid base url", func(c *Config) { c.Auth.BaseURL = "not a url" }},
		{"negative refresh threshold", func(c *Config) { c.Auth.RefreshThreshold = -time.Second }},
		{"unknown store type", func(c *Config) { c.Store.Type = "sqlite" }},
		{"file store without path", func(c *Config) { c.Store.Type = StoreTypeFile; c.Store.File = "" }},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }},
		{"unknown exporter", func(c *Config) { c.LogExporter = "zipkin" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Default()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewTokenStore(t *testing.T) {
	t.Run("none disables persistence", func(t *testing.T) {
		store, err := NewTokenStore(StoreConfig{Type: StoreTypeNone})
		require.NoError(t, err)
		assert.Nil(t, store)
	})

	t.Run("memory", func(t *testing.T) {
		store, err := NewTokenStore(StoreConfig{Type: StoreTypeMemory})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("file", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		store, err := NewTokenStore(StoreConfig{Type: StoreTypeFile, File: "/cfg/realmauth/tokens.json"}, WithStoreFs(fsys))
		require.NoError(t, err)
		require.NotNil(t, store)

		exists, err := afero.DirExists(fsys, "/cfg/realmauth")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("file without path", func(t *testing.T) {
		_, err := NewTokenStore(StoreConfig{Type: StoreTypeFile})
		require.ErrorIs(t, err, autherr.ErrInvalidArgument)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := NewTokenStore(StoreConfig{Type: "sqlite"})
		assert.Error(t, err)
	})
}

func TestNewTokenStoreKeyring(t *testing.T) {
	t.Run("keyring available", func(t *testing.T) {
		keyring.MockInit()
		store, err := NewTokenStore(StoreConfig{Type: StoreTypeKeyring, KeyringService: "realmauth-test"})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("keyring unavailable fails hard", func(t *testing.T) {
		keyring.MockInitWithError(errors.New("no secret service"))
		_, err := NewTokenStore(StoreConfig{Type: StoreTypeKeyring, KeyringService: "realmauth-test"})
		assert.Error(t, err)
	})

	t.Run("auto falls back to file", func(t *testing.T) {
		keyring.MockInitWithError(errors.New("no secret service"))
		fsys := afero.NewMemMapFs()

		a, err := New(&Config{
			LogFormat:   LogFormatText,
			LogExporter: LogExporterNone,
			Auth:        AuthConfig{Env: "prod", InteractiveTimeout: time.Minute, HTTPTimeout: time.Second},
			Store:       StoreConfig{Type: StoreTypeAuto, File: "/cfg/tokens.json", KeyringService: "realmauth-test"},
			Shutdown:    ShutdownConfig{Timeout: time.Second},
		}, WithStoreOptions(WithStoreFs(fsys)))
		require.NoError(t, err)
		assert.Equal(t, "file /cfg/tokens.json", a.StoreLocation())
	})

	t.Run("auto prefers the keyring", func(t *testing.T) {
		keyring.MockInit()
		store, err := NewTokenStore(StoreConfig{Type: StoreTypeAuto, File: "/cfg/tokens.json", KeyringService: "realmauth-test"},
			WithStoreFs(afero.NewMemMapFs()))
		require.NoError(t, err)
		require.NotNil(t, store)

		a := &App{store: store}
		assert.Equal(t, "keyring service realmauth-test", a.StoreLocation())
	})
}

func TestNewWiresFacade(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Store.Type = StoreTypeMemory
	cfg.Auth.ClientID = "cli"
	cfg.Auth.ClientSecret = "secret"

	a, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "memory", a.StoreLocation())

	authenticator, err := a.Auth().Authenticator(context.Background(), auth.LoginOptions{})
	require.NoError(t, err)
	assert.Equal(t, auth.NameClientSecret, authenticator.Name())

	records, err := a.Auth().List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Auth.Env = "nope"

	_, err = New(cfg)
	assert.Error(t, err)
}

func TestCloseRunsShutdownFuncsInReverse(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Store.Type = StoreTypeNone

	a, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "none", a.StoreLocation())

	var order []int
	boom := errors.New("boom")
	a.OnShutdown(func(context.Context) error { order = append(order, 1); return nil })
	a.OnShutdown(func(context.Context) error { order = append(order, 2); return boom })
	a.OnShutdown(func(ctx context.Context) error {
		order = append(order, 3)
		_, ok := ctx.Deadline()
		assert.True(t, ok, "shutdown context is bounded")
		return nil
	})

	err = a.Close(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []int{3, 2, 1}, order)

	require.NoError(t, a.Close(context.Background()), "functions run once")
}
