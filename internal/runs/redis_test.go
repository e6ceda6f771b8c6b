package runs_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfyforge/internal/pipeline"
	"comfyforge/internal/runs"
	"comfyforge/internal/services"
)

func newRedisStore(t *testing.T, opts ...runs.RedisOption) (*runs.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := runs.NewRedisStoreFromClient(client, opts...)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := newRedisStore(t, runs.WithPrefix("test:runs:"))
	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	now := time.Now().UTC()
	rec := &runs.Record{
		ID:          "run-1",
		Status:      pipeline.StatusCompleted,
		SubmittedAt: now,
		UpdatedAt:   now,
		Result: &pipeline.Result{
			Status:  pipeline.StatusCompleted,
			Outputs: map[string]string{"desc": "neon"},
			Lineage: []int64{5},
		},
	}
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCompleted, got.Status)
	assert.Equal(t, "neon", got.Result.Outputs["desc"])
	assert.Equal(t, []int64{5}, got.Result.Lineage)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestRedisStoreTTLExpiration(t *testing.T) {
	now := time.Now()
	store, mr := newRedisStore(t,
		runs.WithTTL(time.Minute),
		runs.WithRedisClock(func() time.Time { return now }),
	)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &runs.Record{ID: "short", Status: pipeline.StatusCompleted}))

	list, err := store.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	mr.FastForward(2 * time.Minute)
	now = now.Add(2 * time.Minute)

	_, err = store.Get(ctx, "short")
	assert.ErrorIs(t, err, services.ErrNotFound)

	list, err = store.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
	members, err := mr.ZMembers("comfyforge:runs:index")
	if err == nil {
		assert.Empty(t, members)
	}
}

func TestRedisStoreMaxEntries(t *testing.T) {
	now := time.Now()
	store, mr := newRedisStore(t,
		runs.WithTTL(time.Hour),
		runs.WithMaxEntries(2),
		runs.WithRedisClock(func() time.Time { return now }),
	)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		now = now.Add(time.Second)
		require.NoError(t, store.Save(ctx, &runs.Record{ID: fmt.Sprintf("r%d", i), Status: pipeline.StatusCompleted}))
	}

	list, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r3", list[0].ID)
	assert.Equal(t, "r2", list[1].ID)
	assert.False(t, mr.Exists("comfyforge:runs:r0"))
}

func TestRedisStoreMaxEntriesKeepsInFlightRuns(t *testing.T) {
	now := time.Now()
	store, mr := newRedisStore(t,
		runs.WithTTL(time.Hour),
		runs.WithMaxEntries(2),
		runs.WithRedisClock(func() time.Time { return now }),
	)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &runs.Record{ID: "busy", Status: pipeline.StatusRunning}))
	for i := 0; i < 3; i++ {
		now = now.Add(time.Second)
		require.NoError(t, store.Save(ctx, &runs.Record{ID: fmt.Sprintf("r%d", i), Status: pipeline.StatusCompleted}))
	}

	got, err := store.Get(ctx, "busy")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusRunning, got.Status)
	assert.True(t, mr.Exists("comfyforge:runs:r2"))
	assert.False(t, mr.Exists("comfyforge:runs:r0"))
	assert.False(t, mr.Exists("comfyforge:runs:r1"))
}
