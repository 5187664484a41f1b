package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/florianilch/realmauth/internal/autherr"
)

// DefaultKeyringService is the keyring service name used when none is configured.
const DefaultKeyringService = "realmauth"

// keyringUser is the keyring entry holding the serialized record set.
const keyringUser = "tokens"

// KeyringBackend provides OS-native secure credential storage for records.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service.
type KeyringBackend struct {
	service string
}

// Compile-time check to ensure KeyringBackend implements Backend
var _ Backend = (*KeyringBackend)(nil)

// NewKeyringBackend creates a KeyringBackend under the given service name and
// verifies that the keyring is reachable.
func NewKeyringBackend(service string) (*KeyringBackend, error) {
	if service == "" {
		return nil, autherr.InvalidArgument("Expected keyring service name to be a non-empty string")
	}

	// A missing entry is fine, any other error means no usable keyring.
	if _, err := keyring.Get(service, keyringUser); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("keyring unavailable: %w", err)
	}

	return &KeyringBackend{service: service}, nil
}

// NewKeyringStore returns a Store persisting to the OS keyring.
func NewKeyringStore(service string, opts ...StoreOption) (*Store, error) {
	backend, err := NewKeyringBackend(service)
	if err != nil {
		return nil, err
	}
	return NewStore(backend, opts...)
}

// Service returns the keyring service name.
func (k *KeyringBackend) Service() string {
	return k.service
}

// Load returns the records from the system keyring.
func (k *KeyringBackend) Load(ctx context.Context) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := keyring.Get(k.service, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) || (err == nil && data == "") {
		return []*Record{}, nil
	}
	if err != nil {
		return nil, err
	}

	var doc fileFormat
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("parsing keyring entry for service %s: %w", k.service, err)
	}
	if doc.Records == nil {
		doc.Records = []*Record{}
	}
	return doc.Records, nil
}

// Save persists the records to the system keyring, overwriting any existing value.
// An empty set removes the entry.
func (k *KeyringBackend) Save(ctx context.Context, records []*Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(records) == 0 {
		if err := keyring.Delete(k.service, keyringUser); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return err
		}
		return nil
	}

	data, err := json.Marshal(fileFormat{Records: records})
	if err != nil {
		return fmt.Errorf("marshaling keyring entry: %w", err)
	}
	return keyring.Set(k.service, keyringUser, string(data))
}
