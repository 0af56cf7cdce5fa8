package keyring

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

var _ Store = (*MockStore)(nil)

func TestMockStore_Lifecycle(t *testing.T) {
	store := NewMockStore()

	if _, err := store.Get(ServiceName, KeySecretKey); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() on empty store error = %v, want ErrNotFound", err)
	}

	for _, secret := range []string{"first-secret", "rotated-secret"} {
		if err := store.Set(ServiceName, KeySecretKey, secret); err != nil {
			t.Fatalf("Set(%q) error = %v", secret, err)
		}
		got, err := store.Get(ServiceName, KeySecretKey)
		if err != nil || got != secret {
			t.Fatalf("Get() = %q, %v; want %q", got, err, secret)
		}
	}

	if err := store.Delete(ServiceName, KeySecretKey); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ServiceName, KeySecretKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ServiceName, KeySecretKey); err != nil {
		t.Errorf("Delete() of missing key error = %v, want nil", err)
	}
}

func TestMockStore_InjectedErrors(t *testing.T) {
	injected := errors.New("keychain locked")

	tests := []struct {
		name  string
		store *MockStore
		call  func(*MockStore) error
	}{
		{
			name:  "get",
			store: NewMockStore().WithData(ServiceName, KeySecretKey, "s").WithGetError(injected),
			call: func(m *MockStore) error {
				_, err := m.Get(ServiceName, KeySecretKey)
				return err
			},
		},
		{
			name:  "set",
			store: NewMockStore().WithSetError(injected),
			call:  func(m *MockStore) error { return m.Set(ServiceName, KeySecretKey, "s") },
		},
		{
			name:  "delete",
			store: NewMockStore().WithData(ServiceName, KeyOAuthToken, "t").WithDeleteError(injected),
			call:  func(m *MockStore) error { return m.Delete(ServiceName, KeyOAuthToken) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(tt.store); !errors.Is(err, injected) {
				t.Errorf("error = %v, want %v", err, injected)
			}
		})
	}
}

func TestMockStore_KeysScopedByService(t *testing.T) {
	store := NewMockStore().
		WithData(ServiceName, KeySecretKey, "apca-secret").
		WithData("other-cli", KeySecretKey, "other-secret")

	got, _ := store.Get(ServiceName, KeySecretKey)
	if got != "apca-secret" {
		t.Errorf("Get(%s) = %q, want %q", ServiceName, got, "apca-secret")
	}

	_ = store.Delete("other-cli", KeySecretKey)
	got, err := store.Get(ServiceName, KeySecretKey)
	if err != nil || got != "apca-secret" {
		t.Errorf("Get(%s) after deleting other service = %q, %v", ServiceName, got, err)
	}
}

func TestMockStore_ConcurrentAccess(t *testing.T) {
	store := NewMockStore()

	const workers = 8
	const rounds = 100

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", w)
			for i := range rounds {
				want := fmt.Sprintf("v%d", i)
				if err := store.Set(ServiceName, key, want); err != nil {
					t.Errorf("Set() error = %v", err)
					return
				}
				if got, err := store.Get(ServiceName, key); err != nil || got != want {
					t.Errorf("Get(%s) = %q, %v; want %q", key, got, err, want)
					return
				}
				// Shared key exercised by every worker.
				_ = store.Set(ServiceName, KeyOAuthToken, want)
				_, _ = store.Get(ServiceName, KeyOAuthToken)
			}
			_ = store.Delete(ServiceName, key)
		}()
	}
	wg.Wait()

	for w := range workers {
		if _, err := store.Get(ServiceName, fmt.Sprintf("key-%d", w)); !errors.Is(err, ErrNotFound) {
			t.Errorf("key-%d still present: %v", w, err)
		}
	}
	if _, err := store.Get(ServiceName, KeyOAuthToken); err != nil {
		t.Errorf("shared key missing: %v", err)
	}
}
