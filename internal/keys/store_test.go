package keys_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"comfyforge/internal/keys"
	"comfyforge/internal/services"
	"comfyforge/internal/testsupport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestRegisterInitializesRemainingQuota(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenKeys(t, cfg)
	ctx := context.Background()

	key, err := store.Register(ctx, keys.Registration{
		Provider:   " OpenAI ",
		Secret:     "sk-abcdefghijkl",
		Tags:       []string{"primary", " free ", "primary", ""},
		QuotaTotal: 50,
		Priority:   2,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if key.ID == 0 {
		t.Fatal("expected id to be assigned")
	}
	if key.Provider != "OpenAI" {
		t.Fatalf("expected trimmed provider, got %q", key.Provider)
	}
	if key.QuotaRemaining != 50 || key.QuotaTotal != 50 {
		t.Fatalf("unexpected quota: %d/%d", key.QuotaRemaining, key.QuotaTotal)
	}
	if key.QuotaUnit != "count" || key.BillingType != "payg" {
		t.Fatalf("unexpected defaults: unit=%q billing=%q", key.QuotaUnit, key.BillingType)
	}
	if len(key.Tags) != 2 || key.Tags[0] != "primary" || key.Tags[1] != "free" {
		t.Fatalf("unexpected tags: %v", key.Tags)
	}
	if !key.Active || key.State() != keys.StateHealthy {
		t.Fatalf("expected healthy active key, got %s", key.State())
	}
	if key.MaskedSecret() != "sk-a...ijkl" {
		t.Fatalf("unexpected masked secret %q", key.MaskedSecret())
	}
	if key.CreatedAt.IsZero() {
		t.Fatal("expected created_at")
	}
}

func TestRegisterRequiresProviderAndSecret(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenKeys(t, cfg)
	ctx := context.Background()

	if _, err := store.Register(ctx, keys.Registration{Secret: "x"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing provider, got %v", err)
	}
	if _, err := store.Register(ctx, keys.Registration{Provider: "OpenAI"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing secret, got %v", err)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenKeys(t, cfg)

	key, err := store.Get(context.Background(), 999)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if key != nil {
		t.Fatalf("expected nil key, got %#v", key)
	}
}

func TestEligibleFilters(t *testing.T) {
	clock := newClock()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenKeys(t, cfg, keys.WithClock(clock.Now))
	ctx := context.Background()

	past := clock.Now().Add(-time.Minute)
	future := clock.Now().Add(time.Hour)

	good := testsupport.RegisterKey(t, store, keys.Registration{Provider: "Qwen", Tags: []string{"primary", "free"}})
	testsupport.RegisterKey(t, store, keys.Registration{Provider: "Qwen", Inactive: true, Tags: []string{"primary", "free"}})
	testsupport.RegisterKey(t, store, keys.Registration{Provider: "Qwen", Tags: []string{"primary"}})
	testsupport.RegisterKey(t, store, keys.Registration{Provider: "Qwen", Tags: []string{"primary", "free"}, ExpiresAt: &past})
	notExpired := testsupport.RegisterKey(t, store, keys.Registration{Provider: "Qwen", Tags: []string{"primary", "free"}, ExpiresAt: &future})
	low := testsupport.RegisterKey(t, store, keys.Registration{Provider: "Qwen", Tags: []string{"free", "primary"}, QuotaTotal: 2})
	testsupport.RegisterKey(t, store, keys.Registration{Provider: "Gemini", Tags: []string{"primary", "free"}})

	got, err := store.Eligible(ctx, "qwen", 1, []string{"primary", "free"})
	if err != nil {
		t.Fatalf("Eligible failed: %v", err)
	}
	wantIDs := []int64{good.ID, notExpired.ID, low.ID}
	if len(got) != len(wantIDs) {
		t.Fatalf("expected %d eligible keys, got %d", len(wantIDs), len(got))
	}
	for i, key := range got {
		if key.ID != wantIDs[i] {
			t.Fatalf("eligible[%d] = %d, want %d", i, key.ID, wantIDs[i])
		}
	}

	got, err = store.Eligible(ctx, "Qwen", 5, []string{"free"})
	if err != nil {
		t.Fatalf("Eligible failed: %v", err)
	}
	for _, key := range got {
		if key.ID == low.ID {
			t.Fatal("expected low-quota key to be excluded")
		}
	}

	clock.Advance(2 * time.Hour)
	got, err = store.Eligible(ctx, "Qwen", 1, []string{"primary", "free"})
	if err != nil {
		t.Fatalf("Eligible failed: %v", err)
	}
	for _, key := range got {
		if key.ID == notExpired.ID {
			t.Fatal("expected key to expire once the clock passes expires_at")
		}
	}
}

func TestRecordOutcomeSuccessResetsFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenKeys(t, cfg)
	ctx := context.Background()
	key := testsupport.RegisterKey(t, store, keys.Registration{Provider: "OpenAI", QuotaTotal: 10})

	for i := 0; i < 2; i++ {
		updated, err := store.RecordOutcome(ctx, keys.Outcome{KeyID: key.ID, LatencyMs: 50, Success: false})
		if err != nil {
			t.Fatalf("RecordOutcome failure: %v", err)
		}
		if updated.QuotaRemaining != 10 {
			t.Fatalf("quota must not change on failure, got %d", updated.QuotaRemaining)
		}
	}
	degraded, _ := store.Get(ctx, key.ID)
	if degraded.State() != keys.StateDegraded || degraded.FailureCount != 2 {
		t.Fatalf("expected degraded with 2 failures, got %s/%d", degraded.State(), degraded.FailureCount)
	}
	if degraded.AvgLatencyMs != 0 {
		t.Fatalf("failures must not move latency average, got %v", degraded.AvgLatencyMs)
	}

	updated, err := store.RecordOutcome(ctx, keys.Outcome{KeyID: key.ID, LatencyMs: 200, Success: true, QuotaConsumed: 1})
	if err != nil {
		t.Fatalf("RecordOutcome success: %v", err)
	}
	if updated.FailureCount != 0 || updated.SuccessCount != 1 {
		t.Fatalf("expected failures reset and one success, got %d/%d", updated.FailureCount, updated.SuccessCount)
	}
	if updated.AvgLatencyMs != 200 {
		t.Fatalf("first latency sample should seed the average, got %v", updated.AvgLatencyMs)
	}
	if updated.QuotaRemaining != 9 {
		t.Fatalf("expected quota 9, got %d", updated.QuotaRemaining)
	}
	if updated.LastUsedAt == nil {
		t.Fatal("expected last_used_at to be stamped")
	}
	if updated.State() != keys.StateHealthy {
		t.Fatalf("expected healthy, got %s", updated.State())
	}

	updated, err = store.RecordOutcome(ctx, keys.Outcome{KeyID: key.ID, LatencyMs: 100, Success: true, QuotaConsumed: 1})
	if err != nil {
		t.Fatalf("RecordOutcome success: %v", err)
	}
	if math.Abs(updated.AvgLatencyMs-190) > 1e-9 {
		t.Fatalf("expected EMA 0.9*200+0.1*100=190, got %v", updated.AvgLatencyMs)
	}
}

func TestRecordOutcomeDisablesAtThreshold(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenKeys(t, cfg)
	ctx := context.Background()
	key := testsupport.RegisterKey(t, store, keys.Registration{Provider: "Grok"})

	var updated *keys.Key
	for i := 0; i < keys.DisableThreshold; i++ {
		var err error
		updated, err = store.RecordOutcome(ctx, keys.Outcome{KeyID: key.ID, Success: false})
		if err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}
	if updated.Active || updated.State() != keys.StateDisabled {
		t.Fatalf("expected key disabled after %d failures", keys.DisableThreshold)
	}
	eligible, err := store.Eligible(ctx, "Grok", 1, nil)
	if err != nil {
		t.Fatalf("Eligible: %v", err)
	}
	if len(eligible) != 0 {
		t.Fatalf("disabled key must not be eligible, got %d", len(eligible))
	}
}

func TestRecordOutcomeUnknownKey(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenKeys(t, cfg)

	_, err := store.RecordOutcome(context.Background(), keys.Outcome{KeyID: 42, Success: true, QuotaConsumed: 1})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLatencyConvergesToConstant(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenKeys(t, cfg)
	ctx := context.Background()
	key := testsupport.RegisterKey(t, store, keys.Registration{Provider: "DeepSeek", QuotaTotal: 1000})

	if _, err := store.RecordOutcome(ctx, keys.Outcome{KeyID: key.ID, LatencyMs: 1000, Success: true}); err != nil {
		t.Fatalf("seed outcome: %v", err)
	}
	var updated *keys.Key
	for i := 0; i < 120; i++ {
		var err error
		updated, err = store.RecordOutcome(ctx, keys.Outcome{KeyID: key.ID, LatencyMs: 80, Success: true})
		if err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}
	if math.Abs(updated.AvgLatencyMs-80) > 0.01 {
		t.Fatalf("expected average to converge to 80, got %v", updated.AvgLatencyMs)
	}
}

func TestApplyProbe(t *testing.T) {
	clock := newClock()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenKeys(t, cfg, keys.WithClock(clock.Now))
	ctx := context.Background()
	key := testsupport.RegisterKey(t, store, keys.Registration{Provider: "Hailuo", QuotaTotal: 10})

	if _, err := store.RecordOutcome(ctx, keys.Outcome{KeyID: key.ID, Success: false}); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	quota := int64(77)
	updated, err := store.ApplyProbe(ctx, key.ID, keys.ProbeResult{Valid: true, QuotaRemaining: &quota})
	if err != nil {
		t.Fatalf("ApplyProbe: %v", err)
	}
	if updated.FailureCount != 0 || updated.QuotaRemaining != 77 {
		t.Fatalf("unexpected probe success state: failures=%d quota=%d", updated.FailureCount, updated.QuotaRemaining)
	}
	if updated.LastCheckedAt == nil || !updated.LastCheckedAt.Equal(clock.Now()) {
		t.Fatalf("expected last_checked_at %s, got %v", clock.Now(), updated.LastCheckedAt)
	}

	updated, err = store.ApplyProbe(ctx, key.ID, keys.ProbeResult{Valid: true})
	if err != nil {
		t.Fatalf("ApplyProbe: %v", err)
	}
	if updated.QuotaRemaining != 77 {
		t.Fatalf("quota must be kept when not reported, got %d", updated.QuotaRemaining)
	}

	for i := 0; i < keys.DisableThreshold; i++ {
		updated, err = store.ApplyProbe(ctx, key.ID, keys.ProbeResult{Valid: false})
		if err != nil {
			t.Fatalf("ApplyProbe failure: %v", err)
		}
	}
	if updated.Active {
		t.Fatal("expected key disabled after repeated probe failures")
	}

	// A background success does not reactivate; a manual check does.
	updated, _ = store.ApplyProbe(ctx, key.ID, keys.ProbeResult{Valid: true})
	if updated.Active {
		t.Fatal("background probe success must not reactivate a disabled key")
	}
	updated, _ = store.ApplyProbe(ctx, key.ID, keys.ProbeResult{Valid: true, Reactivate: true})
	if !updated.Active || updated.FailureCount != 0 {
		t.Fatal("manual check success should reactivate the key")
	}
}

func TestDueForProbe(t *testing.T) {
	clock := newClock()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenKeys(t, cfg, keys.WithClock(clock.Now))
	ctx := context.Background()

	fresh := testsupport.RegisterKey(t, store, keys.Registration{Provider: "Qwen"})
	stale := testsupport.RegisterKey(t, store, keys.Registration{Provider: "Qwen"})
	never := testsupport.RegisterKey(t, store, keys.Registration{Provider: "Gemini"})
	testsupport.RegisterKey(t, store, keys.Registration{Provider: "Gemini", Inactive: true})

	if _, err := store.ApplyProbe(ctx, stale.ID, keys.ProbeResult{Valid: true}); err != nil {
		t.Fatalf("ApplyProbe: %v", err)
	}
	clock.Advance(90 * time.Minute)
	if _, err := store.ApplyProbe(ctx, fresh.ID, keys.ProbeResult{Valid: true}); err != nil {
		t.Fatalf("ApplyProbe: %v", err)
	}

	due, err := store.DueForProbe(ctx, clock.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("DueForProbe: %v", err)
	}
	got := map[int64]bool{}
	for _, key := range due {
		got[key.ID] = true
	}
	if len(got) != 2 || !got[stale.ID] || !got[never.ID] {
		t.Fatalf("expected stale and never-probed keys, got %v", got)
	}
}

func TestSetActiveAndUpdate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenKeys(t, cfg)
	ctx := context.Background()
	key := testsupport.RegisterKey(t, store, keys.Registration{Provider: "Doubao"})

	for i := 0; i < keys.DisableThreshold; i++ {
		if _, err := store.RecordOutcome(ctx, keys.Outcome{KeyID: key.ID}); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}
	enabled, err := store.SetActive(ctx, key.ID, true)
	if err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if !enabled.Active || enabled.FailureCount != 0 {
		t.Fatalf("expected enabled with reset failures, got active=%v failures=%d", enabled.Active, enabled.FailureCount)
	}
	disabled, err := store.SetActive(ctx, key.ID, false)
	if err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if disabled.Active {
		t.Fatal("expected disabled key")
	}
	if _, err := store.SetActive(ctx, 999, true); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	desc := "backup"
	priority := 7
	tags := []string{"backup"}
	updated, err := store.Update(ctx, key.ID, keys.Patch{Description: &desc, Priority: &priority, Tags: &tags})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Description != "backup" || updated.Priority != 7 || len(updated.Tags) != 1 || updated.Tags[0] != "backup" {
		t.Fatalf("unexpected updated key: %#v", updated)
	}

	active := false
	listed, err := store.List(ctx, keys.Filter{Provider: "doubao", Active: &active})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != key.ID {
		t.Fatalf("unexpected list result: %d keys", len(listed))
	}
}

func TestConcurrentOutcomesDoNotLoseUpdates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenKeys(t, cfg)
	ctx := context.Background()
	key := testsupport.RegisterKey(t, store, keys.Registration{Provider: "OpenAI", QuotaTotal: 1000})

	const workers = 16
	const perWorker = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := store.RecordOutcome(ctx, keys.Outcome{KeyID: key.ID, LatencyMs: 100, Success: true, QuotaConsumed: 1}); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("RecordOutcome: %v", err)
	}

	final, err := store.Get(ctx, key.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.SuccessCount != workers*perWorker {
		t.Fatalf("expected %d successes, got %d", workers*perWorker, final.SuccessCount)
	}
	if final.QuotaRemaining != 1000-workers*perWorker {
		t.Fatalf("expected quota %d, got %d", 1000-workers*perWorker, final.QuotaRemaining)
	}
	if math.Abs(final.AvgLatencyMs-100) > 1e-9 {
		t.Fatalf("expected constant latency average 100, got %v", final.AvgLatencyMs)
	}
}
