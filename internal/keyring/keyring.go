// Package keyring stores API secrets in the operating system keyring.
package keyring

import (
	"errors"
	"fmt"
	"os"

	gokeyring "github.com/zalando/go-keyring"

	"github.com/jonandersen/apca/pkg/tradeapi"
)

const (
	// ServiceName is the keyring service the secrets are stored under.
	ServiceName = "markets.alpaca.apca"

	// KeySecretKey is the keyring entry holding the API secret key.
	KeySecretKey = "secret_key"

	// KeyOAuthToken is the keyring entry holding an OAuth access token.
	KeyOAuthToken = "oauth_token"
)

// ErrNotFound is returned when a secret is not found in the keyring.
var ErrNotFound = errors.New("secret not found")

// Store provides an interface for secure secret storage.
type Store interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

// SystemStore implements Store using the system keyring.
type SystemStore struct{}

// NewSystemStore creates a new system keyring store.
func NewSystemStore() *SystemStore {
	return &SystemStore{}
}

// Get retrieves a secret from the system keyring.
func (s *SystemStore) Get(service, key string) (string, error) {
	secret, err := gokeyring.Get(service, key)
	if err != nil {
		if errors.Is(err, gokeyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return secret, nil
}

// Set stores a secret in the system keyring.
func (s *SystemStore) Set(service, key, value string) error {
	return gokeyring.Set(service, key, value)
}

// Delete removes a secret from the system keyring. Deleting a missing
// secret succeeds.
func (s *SystemStore) Delete(service, key string) error {
	err := gokeyring.Delete(service, key)
	if errors.Is(err, gokeyring.ErrNotFound) {
		return nil
	}
	return err
}

// envOverrides names the environment variable that takes precedence over
// each keyring entry.
var envOverrides = map[string]string{
	KeySecretKey:  tradeapi.EnvSecretKey,
	KeyOAuthToken: tradeapi.EnvOAuthToken,
}

// EnvStore wraps another Store and checks environment variables first, so
// headless environments can provide secrets without a keyring.
type EnvStore struct {
	underlying Store
}

// NewEnvStore creates a new EnvStore wrapping the given store.
func NewEnvStore(underlying Store) *EnvStore {
	return &EnvStore{underlying: underlying}
}

// Get returns the environment override for key if set, otherwise the
// secret from the underlying store.
func (e *EnvStore) Get(service, key string) (string, error) {
	if env, ok := envOverrides[key]; ok {
		if v := os.Getenv(env); v != "" {
			return v, nil
		}
	}
	return e.underlying.Get(service, key)
}

// Set stores a secret in the underlying store.
func (e *EnvStore) Set(service, key, value string) error {
	return e.underlying.Set(service, key, value)
}

// Delete removes a secret from the underlying store.
func (e *EnvStore) Delete(service, key string) error {
	return e.underlying.Delete(service, key)
}

// Credentials assembles API credentials for keyID from store. An OAuth
// token wins over the key pair when both are stored; a missing secret is
// left empty for the client to reject.
func Credentials(store Store, keyID string) (tradeapi.Credentials, error) {
	token, err := store.Get(ServiceName, KeyOAuthToken)
	switch {
	case err == nil && token != "":
		return tradeapi.Credentials{OAuthToken: token}, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return tradeapi.Credentials{}, fmt.Errorf("failed to read OAuth token: %w", err)
	}

	secret, err := store.Get(ServiceName, KeySecretKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return tradeapi.Credentials{}, fmt.Errorf("failed to read secret key: %w", err)
	}
	return tradeapi.Credentials{KeyID: keyID, SecretKey: secret}, nil
}
