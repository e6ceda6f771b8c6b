package runs

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"comfyforge/internal/assets"
	"comfyforge/internal/logging"
	"comfyforge/internal/pipeline"
	"comfyforge/internal/services"
)

// ErrShuttingDown is returned by Submit after Shutdown has begun.
var ErrShuttingDown = errors.New("run service is shutting down")

// Executor runs one pipeline definition.
type Executor interface {
	Execute(ctx context.Context, def pipeline.Definition) *pipeline.Result
}

// OutputWriter persists completed outputs as assets.
type OutputWriter interface {
	Create(ctx context.Context, input assets.NewAsset) (*assets.Asset, error)
}

// Observer receives finished-run events, typically a metrics recorder.
type Observer interface {
	ObserveRun(status string, duration time.Duration)
}

// Submission is an external request to run a pipeline.
type Submission struct {
	Definition pipeline.Definition
	Sync       bool
}

// Service schedules runs and retains their records.
type Service struct {
	executor Executor
	store    Store
	outputs  OutputWriter
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	baseCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closing  atomic.Bool
	submitMu sync.Mutex
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logging.NewComponentLogger(logger, "runs")
	}
}

// WithOutputWriter enables persisting completed outputs as assets.
func WithOutputWriter(writer OutputWriter) Option {
	return func(s *Service) {
		s.outputs = writer
	}
}

// WithObserver attaches a run observer.
func WithObserver(observer Observer) Option {
	return func(s *Service) {
		s.observer = observer
	}
}

// NewService constructs a run service.
func NewService(executor Executor, store Store, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		executor: executor,
		store:    store,
		logger:   logging.NewComponentLogger(nil, "runs"),
		now:      time.Now,
		baseCtx:  ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates the definition and runs it. Synchronous submissions
// return the finished record; asynchronous ones return a pending record whose
// id can be polled with Get.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Record, error) {
	def := sub.Definition
	def.Steps = slices.Clone(def.Steps)
	if err := def.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	record := &Record{
		ID:          uuid.NewString(),
		Name:        def.Name,
		Status:      pipeline.StatusPending,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	if sub.Sync {
		return s.run(ctx, record, def), nil
	}

	s.submitMu.Lock()
	if s.closing.Load() {
		s.submitMu.Unlock()
		return nil, ErrShuttingDown
	}
	s.wg.Add(1)
	s.submitMu.Unlock()

	if err := s.store.Save(ctx, record); err != nil {
		s.wg.Done()
		return nil, err
	}
	go func() {
		defer s.wg.Done()
		s.run(s.baseCtx, record.clone(), def)
	}()
	return record.clone(), nil
}

func (s *Service) run(ctx context.Context, record *Record, def pipeline.Definition) *Record {
	ctx = services.WithRunID(ctx, record.ID)
	logger := logging.WithContext(ctx, s.logger)

	record.Status = pipeline.StatusRunning
	record.UpdatedAt = s.now()
	s.save(ctx, record)

	result := s.executor.Execute(ctx, def)
	record.Result = result
	record.Status = result.Status
	if result.Status == pipeline.StatusCompleted && s.outputs != nil {
		record.AssetIDs = s.persistOutputs(ctx, record.ID, result)
	}
	record.UpdatedAt = s.now()
	s.save(ctx, record)

	if s.observer != nil {
		s.observer.ObserveRun(string(result.Status), result.FinishedAt.Sub(result.StartedAt))
	}
	logger.Info("run finished",
		logging.String("status", string(result.Status)),
		logging.Int("outputs", len(result.Outputs)),
	)
	return record.clone()
}

// persistOutputs writes each step output as an asset whose sources are the
// run's lineage. Failures are logged; the run result is unaffected.
func (s *Service) persistOutputs(ctx context.Context, runID string, result *pipeline.Result) map[string]int64 {
	ids := make(map[string]int64, len(result.Steps))
	for _, step := range result.Steps {
		content, ok := result.Outputs[step.Output]
		if !ok {
			continue
		}
		assetType := string(step.Kind)
		if assetType == "" {
			assetType = "text"
		}
		asset, err := s.outputs.Create(ctx, assets.NewAsset{
			Type:        assetType,
			Name:        step.Output,
			Description: "output of step " + step.Step,
			Tags:        []string{"generated", step.Provider},
			Data: map[string]any{
				"content":  content,
				"run_id":   runID,
				"step":     step.Step,
				"provider": step.Provider,
				"model":    step.Model,
			},
			SourceIDs: result.Lineage,
		})
		if err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, s.logger), "persist output failed", "output_persist_failed",
				logging.String("output_var", step.Output),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the run result still carries the output"),
			)
			continue
		}
		ids[step.Output] = asset.ID
	}
	return ids
}

func (s *Service) save(ctx context.Context, record *Record) {
	// Records must land even when the run context was cancelled.
	saveCtx := context.WithoutCancel(ctx)
	if err := s.store.Save(saveCtx, record); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "save run record failed", "run_save_failed",
			logging.String("status", string(record.Status)),
			logging.Error(err),
		)
	}
}

// Get returns the record for id.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.store.Get(ctx, id)
}

// List returns recent records.
func (s *Service) List(ctx context.Context, limit int) ([]*Record, error) {
	return s.store.List(ctx, limit)
}

// Shutdown stops accepting submissions and waits for background runs. When
// ctx expires first, in-flight runs are cancelled and awaited.
func (s *Service) Shutdown(ctx context.Context) error {
	s.submitMu.Lock()
	s.closing.Store(true)
	s.submitMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
