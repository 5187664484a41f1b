package tokenstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/florianilch/realmauth/internal/autherr"
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger used for audit messages. Token values are never logged.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// Store implements TokenStore over a Backend. Every mutation is a locked
// load-modify-save cycle.
type Store struct {
	backend Backend
	now     func() time.Time
	logger  *slog.Logger

	mu sync.Mutex
}

// Compile-time check to ensure Store implements TokenStore
var _ TokenStore = (*Store)(nil)

// NewStore creates a Store persisting through backend.
func NewStore(backend Backend, opts ...StoreOption) (*Store, error) {
	if backend == nil {
		return nil, autherr.InvalidArgument("Expected token store backend to be non-nil")
	}

	s := &Store{
		backend: backend,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Backend returns the backend records are persisted through.
func (s *Store) Backend() Backend {
	return s.backend
}

// Get returns a copy of the matching record, or nil.
func (s *Store) Get(ctx context.Context, q Query) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading token store: %w", err)
	}

	for _, rec := range records {
		if q.Hash != "" {
			if rec.Hash == q.Hash {
				return rec.Clone(), nil
			}
			continue
		}
		if q.AccountName != "" && rec.Name == q.AccountName && rec.matchesBaseURL(q.BaseURL) {
			return rec.Clone(), nil
		}
	}
	return nil, nil
}

// List returns all non-expired records, pruning expired ones from the backend.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadPruned(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*Record, 0, len(records))
	for _, rec := range records {
		result = append(result, rec.Clone())
	}
	return result, nil
}

// Set upserts rec keyed by its hash.
func (s *Store) Set(ctx context.Context, rec *Record) error {
	if rec == nil || rec.Hash == "" {
		return autherr.InvalidArgument("Expected record with a non-empty hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading token store: %w", err)
	}

	stored := rec.Clone()
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = s.now()
	}

	idx := slices.IndexFunc(records, func(r *Record) bool { return r.Hash == rec.Hash })
	if idx >= 0 {
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = records[idx].CreatedAt
		}
		records[idx] = stored
	} else {
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = stored.UpdatedAt
		}
		records = append(records, stored)
	}

	if err := s.backend.Save(ctx, records); err != nil {
		s.logger.WarnContext(ctx, "token store write failed", "hash", rec.Hash, "error", err)
		return fmt.Errorf("saving token store: %w", err)
	}

	s.logger.DebugContext(ctx, "token stored",
		"hash", rec.Hash,
		"account", rec.Name,
		"authenticator", rec.Authenticator,
		"access_expiry", rec.Expires.Access.Format(time.RFC3339),
		"has_refresh_token", rec.HasRefreshToken(),
	)
	return nil
}

// Delete removes records whose name or hash is listed in accounts.
func (s *Store) Delete(ctx context.Context, accounts []string, baseURL string) ([]*Record, error) {
	if len(accounts) == 0 {
		return []*Record{}, nil
	}

	return s.remove(ctx, func(rec *Record) bool {
		if !rec.matchesBaseURL(baseURL) {
			return false
		}
		return slices.Contains(accounts, rec.Name) || slices.Contains(accounts, rec.Hash)
	})
}

// Clear removes every record for baseURL, or all records if baseURL is empty.
func (s *Store) Clear(ctx context.Context, baseURL string) ([]*Record, error) {
	return s.remove(ctx, func(rec *Record) bool {
		return rec.matchesBaseURL(baseURL)
	})
}

func (s *Store) remove(ctx context.Context, match func(*Record) bool) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadPruned(ctx)
	if err != nil {
		return nil, err
	}

	removed := []*Record{}
	kept := make([]*Record, 0, len(records))
	for _, rec := range records {
		if match(rec) {
			removed = append(removed, rec)
		} else {
			kept = append(kept, rec)
		}
	}

	if len(removed) == 0 {
		return removed, nil
	}

	if err := s.backend.Save(ctx, kept); err != nil {
		return nil, fmt.Errorf("saving token store: %w", err)
	}
	for _, rec := range removed {
		s.logger.DebugContext(ctx, "token removed", "hash", rec.Hash, "account", rec.Name)
	}
	return removed, nil
}

// loadPruned loads all records and drops the expired ones, persisting the result
// if anything was dropped. Caller must hold s.mu.
func (s *Store) loadPruned(ctx context.Context) ([]*Record, error) {
	records, err := s.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading token store: %w", err)
	}

	now := s.now()
	valid := slices.DeleteFunc(slices.Clone(records), func(rec *Record) bool {
		return rec.Expired(now)
	})
	if len(valid) == len(records) {
		return records, nil
	}

	if err := s.backend.Save(ctx, valid); err != nil {
		return nil, fmt.Errorf("pruning expired tokens: %w", err)
	}
	s.logger.DebugContext(ctx, "pruned expired tokens", "count", len(records)-len(valid))
	return valid, nil
}
