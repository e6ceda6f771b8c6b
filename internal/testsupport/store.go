package testsupport

import (
	"context"
	"testing"

	"comfyforge/internal/assets"
	"comfyforge/internal/config"
	"comfyforge/internal/keys"
)

// MustOpenKeys opens a keys.Store for tests and registers cleanup.
func MustOpenKeys(t testing.TB, cfg *config.Config, opts ...keys.Option) *keys.Store {
	t.Helper()

	store, err := keys.Open(cfg.KeysDBPath(), opts...)
	if err != nil {
		t.Fatalf("keys.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenAssets opens an assets.Store for tests and registers cleanup.
func MustOpenAssets(t testing.TB, cfg *config.Config) *assets.Store {
	t.Helper()

	store, err := assets.Open(cfg.AssetsDBPath())
	if err != nil {
		t.Fatalf("assets.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// RegisterKey registers a key for tests, defaulting quota to 100.
func RegisterKey(t testing.TB, store *keys.Store, reg keys.Registration) *keys.Key {
	t.Helper()

	if reg.Secret == "" {
		reg.Secret = "sk-test-" + reg.Provider
	}
	if reg.QuotaTotal == 0 {
		reg.QuotaTotal = 100
	}
	key, err := store.Register(context.Background(), reg)
	if err != nil {
		t.Fatalf("store.Register: %v", err)
	}
	return key
}

// CreateAsset inserts an asset for tests.
func CreateAsset(t testing.TB, store *assets.Store, assetType, name string, data map[string]any) *assets.Asset {
	t.Helper()

	asset, err := store.Create(context.Background(), assets.NewAsset{Type: assetType, Name: name, Data: data})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return asset
}
