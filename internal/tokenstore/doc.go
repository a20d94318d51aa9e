// Package tokenstore persists the current access/refresh token pair.
//
// Every backend stores the pair under the keys "token" and "refresh_token" and
// writes or clears both together, so readers never observe half a pair:
//   - File: JSON object on the local filesystem, atomic writes, 0600 permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - SQLite: key/value table, writes in a single transaction
//   - Redis: two keys under a prefix, writes in MULTI/EXEC
//   - Memory: process-local, lost on exit
//
// Stores perform no validation of token contents; expiry is decided elsewhere.
// EnvSource is a read-only seed for bootstrapping a store from the environment.
package tokenstore
