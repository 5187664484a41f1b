package tokenstore

import "context"

// Query selects a single record. Hash takes precedence; otherwise the record is
// matched by account name, optionally scoped to BaseURL.
type Query struct {
	Hash        string
	AccountName string
	BaseURL     string
}

// TokenStore reads and writes credential records.
//
// Implementations must be safe for concurrent use within one process. No
// cross-process locking is provided.
type TokenStore interface {
	// Get returns the matching record, or nil if none exists.
	Get(ctx context.Context, q Query) (*Record, error)

	// List returns all records that are not expired as of the call.
	List(ctx context.Context) ([]*Record, error)

	// Set upserts the record keyed by its hash.
	Set(ctx context.Context, rec *Record) error

	// Delete removes records whose account name or hash is in accounts, optionally
	// scoped to baseURL, and returns them.
	Delete(ctx context.Context, accounts []string, baseURL string) ([]*Record, error)

	// Clear removes all records (scoped to baseURL if non-empty) and returns them.
	Clear(ctx context.Context, baseURL string) ([]*Record, error)
}

// Backend loads and saves the complete record set.
//
// Load returns an empty slice when nothing has been stored yet.
type Backend interface {
	Load(ctx context.Context) ([]*Record, error)
	Save(ctx context.Context, records []*Record) error
}
