package keys

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"comfyforge/internal/database"
	"comfyforge/internal/services"
)

// Store manages key persistence backed by SQLite.
type Store struct {
	db  *database.DB
	now func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open initializes or connects to the key registry database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := database.Open(path, schema)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Register inserts a new key. Remaining quota starts at the total quota.
func (s *Store) Register(ctx context.Context, reg Registration) (*Key, error) {
	provider := strings.TrimSpace(reg.Provider)
	if provider == "" {
		return nil, services.Wrap(services.ErrValidation, "keys", "register", "provider is required", nil)
	}
	secret := strings.TrimSpace(reg.Secret)
	if secret == "" {
		return nil, services.Wrap(services.ErrValidation, "keys", "register", "secret is required", nil)
	}
	if reg.QuotaTotal < 0 {
		return nil, services.Wrap(services.ErrValidation, "keys", "register", "quota_total must be zero or positive", nil)
	}
	quotaUnit := strings.TrimSpace(reg.QuotaUnit)
	if quotaUnit == "" {
		quotaUnit = "count"
	}
	billing := strings.TrimSpace(reg.BillingType)
	if billing == "" {
		billing = "payg"
	}
	tagsJSON, err := json.Marshal(normalizeTags(reg.Tags))
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	metadata := reg.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	now := s.now().UTC()
	res, err := s.db.ExecWithRetry(ctx,
		`INSERT INTO api_keys (
            provider, secret, description, is_active, priority, tags_json,
            quota_total, quota_remaining, quota_unit, price_per_call, billing_type,
            created_at, expires_at, metadata_json
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		provider,
		secret,
		strings.TrimSpace(reg.Description),
		database.BoolToInt(!reg.Inactive),
		reg.Priority,
		string(tagsJSON),
		reg.QuotaTotal,
		reg.QuotaTotal,
		quotaUnit,
		reg.PricePerCall,
		billing,
		database.FormatTime(now),
		database.NullableTime(reg.ExpiresAt),
		string(metadataJSON),
	)
	if err != nil {
		return nil, fmt.Errorf("insert key: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("fetch key id: %w", err)
	}
	return s.Get(ctx, id)
}

// Get returns the key with id, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id int64) (*Key, error) {
	ctx = database.EnsureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+keyColumns+" FROM api_keys WHERE id = ?", id)
	key, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get key %d: %w", id, err)
	}
	return key, nil
}

// List returns keys matching filter ordered by provider then id.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Key, error) {
	ctx = database.EnsureContext(ctx)
	query := "SELECT " + keyColumns + " FROM api_keys"
	var (
		clauses []string
		args    []any
	)
	if provider := strings.TrimSpace(filter.Provider); provider != "" {
		clauses = append(clauses, "provider = ? COLLATE NOCASE")
		args = append(args, provider)
	}
	if filter.Active != nil {
		clauses = append(clauses, "is_active = ?")
		args = append(args, database.BoolToInt(*filter.Active))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY provider COLLATE NOCASE, id"
	return s.queryKeys(ctx, query, args...)
}

// Eligible returns active, unexpired keys for provider with at least
// minQuota remaining and every required tag, ordered by id.
func (s *Store) Eligible(ctx context.Context, provider string, minQuota int64, requiredTags []string) ([]*Key, error) {
	ctx = database.EnsureContext(ctx)
	now := database.FormatTime(s.now())
	candidates, err := s.queryKeys(ctx,
		"SELECT "+keyColumns+` FROM api_keys
        WHERE provider = ? COLLATE NOCASE
          AND is_active = 1
          AND quota_remaining >= ?
          AND (expires_at IS NULL OR expires_at > ?)
        ORDER BY id`,
		strings.TrimSpace(provider), minQuota, now,
	)
	if err != nil {
		return nil, err
	}
	if len(requiredTags) == 0 {
		return candidates, nil
	}
	eligible := candidates[:0]
	for _, key := range candidates {
		if key.HasTags(requiredTags) {
			eligible = append(eligible, key)
		}
	}
	return eligible, nil
}

// DueForProbe returns active keys whose last probe is older than staleBefore
// or that have never been probed.
func (s *Store) DueForProbe(ctx context.Context, staleBefore time.Time) ([]*Key, error) {
	ctx = database.EnsureContext(ctx)
	return s.queryKeys(ctx,
		"SELECT "+keyColumns+` FROM api_keys
        WHERE is_active = 1
          AND (last_checked_at IS NULL OR last_checked_at < ?)
        ORDER BY id`,
		database.FormatTime(staleBefore),
	)
}

// Update applies patch to the descriptive fields of key id.
func (s *Store) Update(ctx context.Context, id int64, patch Patch) (*Key, error) {
	var (
		sets []string
		args []any
	)
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, strings.TrimSpace(*patch.Description))
	}
	if patch.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *patch.Priority)
	}
	if patch.Tags != nil {
		encoded, err := json.Marshal(normalizeTags(*patch.Tags))
		if err != nil {
			return nil, fmt.Errorf("encode tags: %w", err)
		}
		sets = append(sets, "tags_json = ?")
		args = append(args, string(encoded))
	}
	if patch.PricePerCall != nil {
		sets = append(sets, "price_per_call = ?")
		args = append(args, *patch.PricePerCall)
	}
	if patch.ExpiresAt != nil {
		sets = append(sets, "expires_at = ?")
		args = append(args, database.NullableTime(patch.ExpiresAt))
	}
	if len(sets) == 0 {
		return s.mustGet(ctx, id, "update")
	}
	args = append(args, id)
	return s.updateReturning(ctx, "update", "UPDATE api_keys SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
}

// SetActive enables or disables a key. Enabling clears the failure counter.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) (*Key, error) {
	if active {
		return s.updateReturning(ctx, "enable",
			"UPDATE api_keys SET is_active = 1, failure_count = 0 WHERE id = ?", id)
	}
	return s.updateReturning(ctx, "disable",
		"UPDATE api_keys SET is_active = 0 WHERE id = ?", id)
}

func (s *Store) mustGet(ctx context.Context, id int64, op string) (*Key, error) {
	key, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, services.Wrap(services.ErrNotFound, "keys", op, fmt.Sprintf("key %d", id), nil)
	}
	return key, nil
}

func (s *Store) queryKeys(ctx context.Context, query string, args ...any) ([]*Key, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	var keys []*Key
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// updateReturning runs a single-row UPDATE with RETURNING so the caller sees
// exactly the values its own statement produced.
func (s *Store) updateReturning(ctx context.Context, op, query string, args ...any) (*Key, error) {
	ctx = database.EnsureContext(ctx)
	var key *Key
	err := database.RetryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx, query+" RETURNING "+keyColumns, args...)
		scanned, err := scanKey(row)
		if err != nil {
			return err
		}
		key = scanned
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "keys", op, "key not found", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%s key: %w", op, err)
	}
	return key, nil
}
