package runs_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"comfyforge/internal/pipeline"
	"comfyforge/internal/runs"
	"comfyforge/internal/services"
)

func record(id string, status pipeline.Status, at time.Time) *runs.Record {
	return &runs.Record{ID: id, Status: status, SubmittedAt: at, UpdatedAt: at}
}

func TestMemoryStoreRetention(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := runs.NewMemoryStore(time.Hour, 0)
	store.SetClock(func() time.Time { return now })
	ctx := context.Background()

	if err := store.Save(ctx, record("done", pipeline.StatusCompleted, now)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(ctx, record("busy", pipeline.StatusRunning, now)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	now = now.Add(2 * time.Hour)

	if _, err := store.Get(ctx, "done"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected expired run to be evicted, got %v", err)
	}
	if _, err := store.Get(ctx, "busy"); err != nil {
		t.Fatalf("running records are kept past retention: %v", err)
	}
}

func TestMemoryStoreCapEvictsOldestFinishedFirst(t *testing.T) {
	now := time.Now()
	store := runs.NewMemoryStore(time.Hour, 3)
	ctx := context.Background()

	_ = store.Save(ctx, record("running-old", pipeline.StatusRunning, now))
	for i := 0; i < 4; i++ {
		_ = store.Save(ctx, record(fmt.Sprintf("done-%d", i), pipeline.StatusCompleted, now))
	}
	if store.Len() != 3 {
		t.Fatalf("len = %d", store.Len())
	}
	if _, err := store.Get(ctx, "running-old"); err != nil {
		t.Fatalf("running record evicted before finished ones: %v", err)
	}
	if _, err := store.Get(ctx, "done-0"); !errors.Is(err, services.ErrNotFound) {
		t.Fatal("expected oldest finished record to be evicted")
	}

	list, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "done-3" || list[1].ID != "done-2" {
		t.Fatalf("unexpected list order %v", list)
	}
}

func TestMemoryStoreUpdateKeepsPosition(t *testing.T) {
	store := runs.NewMemoryStore(time.Hour, 10)
	ctx := context.Background()
	now := time.Now()
	_ = store.Save(ctx, record("a", pipeline.StatusPending, now))
	_ = store.Save(ctx, record("b", pipeline.StatusPending, now))
	_ = store.Save(ctx, record("a", pipeline.StatusCompleted, now))

	got, err := store.Get(ctx, "a")
	if err != nil || got.Status != pipeline.StatusCompleted {
		t.Fatalf("Get: %+v, %v", got, err)
	}
	if store.Len() != 2 {
		t.Fatalf("len = %d", store.Len())
	}
}

func TestMemoryStoreCapNeverEvictsInFlightRuns(t *testing.T) {
	now := time.Now()
	store := runs.NewMemoryStore(time.Hour, 2)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Save(ctx, record(id, pipeline.StatusRunning, now)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if store.Len() != 3 {
		t.Fatalf("in-flight runs evicted for the cap: len = %d", store.Len())
	}

	// Finishing a run while over the cap keeps it readable for its poller.
	if err := store.Save(ctx, record("a", pipeline.StatusCompleted, now)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Get(ctx, "a")
	if err != nil || got.Status != pipeline.StatusCompleted {
		t.Fatalf("Get finished run: %+v, %v", got, err)
	}
	for _, id := range []string{"b", "c"} {
		if _, err := store.Get(ctx, id); err != nil {
			t.Fatalf("running record %s evicted: %v", id, err)
		}
	}

	// The next finished save makes the older finished run eligible.
	if err := store.Save(ctx, record("d", pipeline.StatusCompleted, now)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.Get(ctx, "a"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected older finished run to be evicted, got %v", err)
	}
	if store.Len() != 3 {
		t.Fatalf("len = %d", store.Len())
	}
}
