// Package tokenstore persists credential records produced by the authenticators.
//
// A Store implements the TokenStore contract on top of a Backend that only knows how
// to load and save the full record set. Three backends are provided, with different
// security and deployment tradeoffs:
//   - Memory: process-local, lost on exit (tests, short-lived tools)
//   - File: JSON file with atomic writes and 0600 permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, Secret Service)
//
// Records are keyed by the authenticator fingerprint ("hash"). Expired records are
// pruned whenever the store is listed or cleared.
package tokenstore
