package runs

import (
	"context"
	"fmt"

	"comfyforge/internal/config"
)

// Store retains run records.
type Store interface {
	Save(ctx context.Context, record *Record) error
	// Get returns services.ErrNotFound for unknown or evicted runs.
	Get(ctx context.Context, id string) (*Record, error)
	// List returns up to limit records, most recently submitted first.
	List(ctx context.Context, limit int) ([]*Record, error)
	Close() error
}

// NewStore builds the store selected by cfg.Runs.Backend.
func NewStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Runs.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.RunRetention(), cfg.Runs.MaxEntries), nil
	case "redis":
		store := NewRedisStore(cfg.Runs.RedisAddr, cfg.Runs.RedisPassword, cfg.Runs.RedisDB,
			WithTTL(cfg.RunRetention()),
			WithPrefix(cfg.Runs.RedisPrefix),
			WithMaxEntries(cfg.Runs.MaxEntries),
		)
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported runs backend %q", cfg.Runs.Backend)
	}
}
