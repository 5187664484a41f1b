package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/florianilch/realmauth/internal/auth"
	"github.com/florianilch/realmauth/internal/tokenstore"
)

// App wires the configured token store into the auth facade and owns the
// cleanup that has to run before the process exits.
type App struct {
	cfg    *Config
	store  tokenstore.TokenStore
	auth   *auth.Auth
	logger *slog.Logger

	shutdownFuncs []func(context.Context) error
}

// Option configures an App.
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *slog.Logger
	storeOpts  []StoreOption
}

// WithHTTPClient overrides the client used to reach the provider.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithStoreOptions passes options through to NewTokenStore.
func WithStoreOptions(opts ...StoreOption) Option {
	return func(o *options) {
		o.storeOpts = append(o.storeOpts, opts...)
	}
}

// New creates a new App instance.
func New(cfg *Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.Auth.HTTPTimeout}
	}

	store, err := NewTokenStore(cfg.Store, append([]StoreOption{WithStoreLogger(o.logger)}, o.storeOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	a, err := auth.New(auth.Config{
		BaseURL:                 cfg.Auth.BaseURL,
		ClientID:                cfg.Auth.ClientID,
		ClientSecret:            cfg.Auth.ClientSecret,
		Env:                     cfg.Auth.Env,
		Password:                cfg.Auth.Password,
		Realm:                   cfg.Auth.Realm,
		SecretFile:              cfg.Auth.SecretFile,
		Username:                cfg.Auth.Username,
		TokenStore:              store,
		TokenRefreshThreshold:   cfg.Auth.RefreshThreshold,
		InteractiveLoginTimeout: cfg.Auth.InteractiveTimeout,
		Discovery:               cfg.Auth.Discovery,
		HTTPClient:              o.httpClient,
		Logger:                  o.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create auth: %w", err)
	}

	return &App{
		cfg:    cfg,
		store:  store,
		auth:   a,
		logger: o.logger,
	}, nil
}

// Auth returns the configured facade.
func (a *App) Auth() *auth.Auth {
	return a.auth
}

// StoreLocation describes where records are persisted, for display.
func (a *App) StoreLocation() string {
	s, ok := a.store.(*tokenstore.Store)
	if !ok {
		if a.store == nil {
			return "none"
		}
		return fmt.Sprintf("%T", a.store)
	}
	switch b := s.Backend().(type) {
	case *tokenstore.FileBackend:
		return "file " + b.Path()
	case *tokenstore.KeyringBackend:
		return "keyring service " + b.Service()
	case *tokenstore.MemoryBackend:
		return "memory"
	default:
		return fmt.Sprintf("%T", b)
	}
}

// OnShutdown registers fn to run on Close. Functions run in reverse order.
func (a *App) OnShutdown(fn func(context.Context) error) {
	a.shutdownFuncs = append(a.shutdownFuncs, fn)
}

// Close runs the registered shutdown functions, bounded by the configured
// shutdown timeout, and joins their errors.
func (a *App) Close(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	for i := len(a.shutdownFuncs) - 1; i >= 0; i-- {
		if err := a.shutdownFuncs[i](shutdownCtx); err != nil {
			a.logger.ErrorContext(shutdownCtx, "shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}
	a.shutdownFuncs = nil

	return errors.Join(errs...)
}
