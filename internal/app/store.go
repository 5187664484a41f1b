package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/florianilch/realmauth/internal/tokenstore"
)

// StoreOption configures NewTokenStore.
type StoreOption func(*storeOptions)

type storeOptions struct {
	fs     afero.Fs
	logger *slog.Logger
}

// WithStoreFs sets the filesystem used by file storage.
func WithStoreFs(fsys afero.Fs) StoreOption {
	return func(o *storeOptions) {
		o.fs = fsys
	}
}

// WithStoreLogger sets the logger handed to the store.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(o *storeOptions) {
		o.logger = logger
	}
}

// NewTokenStore creates the TokenStore described by cfg. A nil store (and nil
// error) means persistence is disabled.
func NewTokenStore(cfg StoreConfig, opts ...StoreOption) (tokenstore.TokenStore, error) {
	o := storeOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	storeOpts := []tokenstore.StoreOption{tokenstore.WithLogger(o.logger)}
	var fileOpts []tokenstore.FileOption
	if o.fs != nil {
		fileOpts = append(fileOpts, tokenstore.WithFs(o.fs))
	}

	switch cfg.Type {
	case StoreTypeNone:
		return nil, nil
	case StoreTypeMemory:
		return tokenstore.NewMemoryStore(storeOpts...), nil
	case StoreTypeFile:
		return tokenstore.NewFileStore(cfg.File, fileOpts, storeOpts...)
	case StoreTypeKeyring:
		return tokenstore.NewKeyringStore(cfg.KeyringService, storeOpts...)
	case StoreTypeAuto:
		store, err := tokenstore.NewKeyringStore(cfg.KeyringService, storeOpts...)
		if err == nil {
			return store, nil
		}
		o.logger.Debug("keyring unavailable, falling back to file storage", "error", err, "file", cfg.File)
		if cfg.File == "" {
			return nil, fmt.Errorf("no keyring available and no token file configured: %w", err)
		}
		return tokenstore.NewFileStore(cfg.File, fileOpts, storeOpts...)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}
