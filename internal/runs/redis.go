package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"

	"comfyforge/internal/services"
)

const defaultRedisPrefix = "comfyforge:runs:"

// RedisStore keeps records as JSON values with a TTL and a sorted-set index
// scored by expiry.
type RedisStore struct {
	client     *backend.Client
	prefix     string
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// RedisOption customizes a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the expiration for run records.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for run records.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithMaxEntries caps the number of indexed runs.
func WithMaxEntries(max int) RedisOption {
	return func(s *RedisStore) {
		s.maxEntries = max
	}
}

// WithRedisClock overrides the time source used for index scores.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRedisStore connects a store to the redis server at address.
func NewRedisStore(address, password string, db int, opts ...RedisOption) *RedisStore {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(client, opts...)
}

// NewRedisStoreFromClient creates a store from an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

// Ping verifies the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Save(ctx context.Context, record *Record) error {
	if record == nil || record.ID == "" {
		return services.Wrap(services.ErrValidation, "runs", "save", "record id is required", nil)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	// Score = expiry. Without a TTL, records sort far in the future.
	score := float64(s.now().Add(s.ttl).Unix())
	if s.ttl == 0 {
		score = 4102444800
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(record.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: record.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save run to redis: %w", err)
	}
	return s.trim(ctx, record.ID)
}

// trim removes the oldest finished runs beyond maxEntries. In-flight runs
// stay indexed even when that leaves the index over the cap, as does the
// run that was just saved.
func (s *RedisStore) trim(ctx context.Context, saved string) error {
	if s.maxEntries <= 0 {
		return nil
	}
	count, err := s.client.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("count runs: %w", err)
	}
	excess := count - int64(s.maxEntries)
	if excess <= 0 {
		return nil
	}
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("select stale runs: %w", err)
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("load stale runs: %w", err)
	}
	pipe := s.client.TxPipeline()
	for i, value := range values {
		if excess <= 0 {
			break
		}
		if ids[i] == saved {
			continue
		}
		if raw, ok := value.(string); ok {
			var record Record
			if err := json.Unmarshal([]byte(raw), &record); err == nil && !record.Status.Terminal() {
				continue
			}
		}
		// Finished, expired, or unreadable.
		pipe.Del(ctx, keys[i])
		pipe.ZRem(ctx, s.indexKey(), ids[i])
		excess--
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("trim runs: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	val, err := s.client.Get(ctx, s.key(id)).Result()
	if errors.Is(err, backend.Nil) {
		return nil, services.Wrap(services.ErrNotFound, "runs", "get", fmt.Sprintf("run %s", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get run from redis: %w", err)
	}
	var record Record
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &record, nil
}

// List prunes expired index entries, then returns the newest records.
func (s *RedisStore) List(ctx context.Context, limit int) ([]*Record, error) {
	now := strconv.FormatInt(s.now().Unix(), 10)
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", "("+now).Err(); err != nil {
		return nil, fmt.Errorf("prune expired runs: %w", err)
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load runs: %w", err)
	}
	records := make([]*Record, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var record Record
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			continue
		}
		records = append(records, &record)
	}
	return records, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
