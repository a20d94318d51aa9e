package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore provides OS-native secure credential storage for the pair.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service.
// Both tokens live in one keyring item so they are replaced together.
type KeyringStore struct {
	service string
	user    string
}

// Compile-time check to ensure KeyringStore implements Store
var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore for the OS-native credential storage
// (macOS Keychain, Windows Credential Manager, etc.) using the given service and user identifiers.
func NewKeyringStore(service, user string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}

	return &KeyringStore{
		service: service,
		user:    user,
	}, nil
}

func (k *KeyringStore) Access(ctx context.Context) (string, error) {
	pair, err := k.read(ctx)
	if err != nil {
		return "", err
	}
	return pair.Access, nil
}

func (k *KeyringStore) Refresh(ctx context.Context) (string, error) {
	pair, err := k.read(ctx)
	if err != nil {
		return "", err
	}
	return pair.Refresh, nil
}

func (k *KeyringStore) read(ctx context.Context) (Pair, error) {
	if err := ctx.Err(); err != nil {
		return Pair{}, err
	}

	secret, err := keyring.Get(k.service, k.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return Pair{}, ErrNotFound
	}
	if err != nil {
		return Pair{}, err
	}

	var pair Pair
	if err := json.Unmarshal([]byte(secret), &pair); err != nil {
		return Pair{}, fmt.Errorf("decoding keyring item for service %s, user %s: %w", k.service, k.user, err)
	}
	if !pair.complete() {
		return Pair{}, fmt.Errorf("keyring item for service %s, user %s: %w", k.service, k.user, ErrIncompletePair)
	}
	return pair, nil
}

// SetPair persists the pair to the system keyring, overwriting any existing value.
func (k *KeyringStore) SetPair(ctx context.Context, pair Pair) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !pair.complete() {
		return ErrIncompletePair
	}

	data, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("encoding token pair: %w", err)
	}
	return keyring.Set(k.service, k.user, string(data))
}

func (k *KeyringStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := keyring.Delete(k.service, k.user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}
