package runs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"comfyforge/internal/pipeline"
	"comfyforge/internal/providers"
	"comfyforge/internal/runs"
	"comfyforge/internal/services"
	"comfyforge/internal/testsupport"
)

type stubExecutor struct {
	mu      sync.Mutex
	release chan struct{}
	runIDs  []string
}

func (s *stubExecutor) Execute(ctx context.Context, def pipeline.Definition) *pipeline.Result {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return &pipeline.Result{Status: pipeline.StatusFailed, Error: ctx.Err().Error(), Err: ctx.Err()}
		}
	}
	id, _ := services.RunIDFromContext(ctx)
	s.mu.Lock()
	s.runIDs = append(s.runIDs, id)
	s.mu.Unlock()
	step := def.Steps[0]
	return &pipeline.Result{
		Status:  pipeline.StatusCompleted,
		Outputs: map[string]string{step.OutputName(): "generated"},
		Lineage: []int64{3},
		Steps: []pipeline.StepReport{{
			Step: step.Step, Provider: step.Provider, Model: "m", Output: step.OutputName(), Kind: providers.ResultImage,
		}},
	}
}

type countingObserver struct {
	mu       sync.Mutex
	statuses []string
}

func (o *countingObserver) ObserveRun(status string, _ time.Duration) {
	o.mu.Lock()
	o.statuses = append(o.statuses, status)
	o.mu.Unlock()
}

func oneStep() pipeline.Definition {
	return pipeline.Definition{Steps: []pipeline.StepDefinition{{Step: "img", Provider: "OpenAI", Prompt: "fox"}}}
}

func TestSubmitSyncPersistsOutputs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	assetStore := testsupport.MustOpenAssets(t, cfg)
	observer := &countingObserver{}
	exec := &stubExecutor{}
	svc := runs.NewService(exec, runs.NewMemoryStore(time.Hour, 10),
		runs.WithOutputWriter(assetStore),
		runs.WithObserver(observer),
	)

	rec, err := svc.Submit(context.Background(), runs.Submission{Definition: oneStep(), Sync: true})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Status != pipeline.StatusCompleted || rec.Result.Outputs["img"] != "generated" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if len(exec.runIDs) != 1 || exec.runIDs[0] != rec.ID {
		t.Fatalf("run id not propagated: %v", exec.runIDs)
	}
	assetID, ok := rec.AssetIDs["img"]
	if !ok {
		t.Fatalf("expected persisted output, got %v", rec.AssetIDs)
	}
	asset, err := assetStore.Get(context.Background(), assetID)
	if err != nil {
		t.Fatalf("Get asset: %v", err)
	}
	if asset.Type != "image" || asset.Data["content"] != "generated" || len(asset.SourceIDs) != 1 || asset.SourceIDs[0] != 3 {
		t.Fatalf("unexpected asset %+v", asset)
	}
	polled, err := svc.Get(context.Background(), rec.ID)
	if err != nil || polled.Status != pipeline.StatusCompleted {
		t.Fatalf("poll: %+v, %v", polled, err)
	}
	if len(observer.statuses) != 1 || observer.statuses[0] != "completed" {
		t.Fatalf("observer saw %v", observer.statuses)
	}
}

func TestSubmitAsyncIsPollable(t *testing.T) {
	exec := &stubExecutor{release: make(chan struct{})}
	svc := runs.NewService(exec, runs.NewMemoryStore(time.Hour, 10))

	rec, err := svc.Submit(context.Background(), runs.Submission{Definition: oneStep()})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Status != pipeline.StatusPending || rec.ID == "" {
		t.Fatalf("unexpected async record %+v", rec)
	}
	close(exec.release)

	deadline := time.Now().Add(5 * time.Second)
	for {
		polled, err := svc.Get(context.Background(), rec.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if polled.Status == pipeline.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run did not finish, status %s", polled.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestSubmitRejectsInvalidDefinition(t *testing.T) {
	svc := runs.NewService(&stubExecutor{}, runs.NewMemoryStore(time.Hour, 10))
	_, err := svc.Submit(context.Background(), runs.Submission{})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestShutdownCancelsInFlightRuns(t *testing.T) {
	exec := &stubExecutor{release: make(chan struct{})}
	svc := runs.NewService(exec, runs.NewMemoryStore(time.Hour, 10))
	rec, err := svc.Submit(context.Background(), runs.Submission{Definition: oneStep()})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := svc.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline from Shutdown, got %v", err)
	}
	polled, err := svc.Get(context.Background(), rec.ID)
	if err != nil || polled.Status != pipeline.StatusFailed {
		t.Fatalf("expected cancelled run to be failed, got %+v, %v", polled, err)
	}
	if _, err := svc.Submit(context.Background(), runs.Submission{Definition: oneStep()}); !errors.Is(err, runs.ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}
