package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"comfyforge/internal/keys"
	"comfyforge/internal/logging"
	"comfyforge/internal/providers"
	"comfyforge/internal/refs"
	"comfyforge/internal/router"
	"comfyforge/internal/services"
)

// Binder pairs a provider's adapter with a routed key.
type Binder interface {
	Bind(ctx context.Context, provider string, criteria router.Criteria) (providers.Binding, error)
}

// OutcomeRecorder feeds call results back into the key registry.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, provider string, outcome keys.Outcome) (*keys.Key, error)
}

// Executor runs pipeline definitions. It holds no per-run state and is safe
// for concurrent use.
type Executor struct {
	binder   Binder
	outcomes OutcomeRecorder
	resolver *refs.Resolver
	logger   *slog.Logger
	strategy router.Strategy
	now      func() time.Time
}

// Option customizes an Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logging.NewComponentLogger(logger, "pipeline")
	}
}

// WithDefaultStrategy sets the routing strategy for steps that omit one.
func WithDefaultStrategy(strategy router.Strategy) Option {
	return func(e *Executor) {
		if strategy != "" {
			e.strategy = strategy
		}
	}
}

// WithClock overrides the time source used for latency and timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExecutor constructs an executor.
func NewExecutor(binder Binder, outcomes OutcomeRecorder, resolver *refs.Resolver, opts ...Option) *Executor {
	e := &Executor{
		binder:   binder,
		outcomes: outcomes,
		resolver: resolver,
		logger:   logging.NewComponentLogger(nil, "pipeline"),
		strategy: router.Balanced,
		now:      time.Now,
	}
	if e.resolver == nil {
		e.resolver = refs.NewResolver(nil, nil)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type runState struct {
	vars    map[string]string
	lineage *refs.Lineage
	steps   []StepReport
}

// Execute runs def to completion or to its first failing step.
func (e *Executor) Execute(ctx context.Context, def Definition) *Result {
	started := e.now()
	state := &runState{vars: make(map[string]string), lineage: refs.NewLineage()}
	logger := logging.WithContext(ctx, e.logger)

	def.Steps = slices.Clone(def.Steps)
	def.KeyOverrides = maps.Clone(def.KeyOverrides)
	if err := def.Validate(); err != nil {
		return e.finish(state, started, -1, err)
	}
	logger.Info("pipeline run started", logging.Int("steps", len(def.Steps)))

	for i, step := range def.Steps {
		report, err := e.runStep(ctx, i, step, def.KeyOverrides, state)
		state.steps = append(state.steps, report)
		if err != nil {
			stepErr := &StepError{Index: i, Step: step.Step, Provider: step.Provider, Err: err}
			logging.ErrorWithContext(logger, "pipeline step failed", "step_failed",
				logging.Int(logging.FieldStepIndex, i),
				logging.String("step", step.Step),
				logging.String(logging.FieldProvider, step.Provider),
				logging.String(logging.FieldErrorKind, services.Kind(err)),
				logging.Error(err),
			)
			return e.finish(state, started, i, stepErr)
		}
	}
	result := e.finish(state, started, -1, nil)
	logger.Info("pipeline run completed",
		logging.Int("steps", len(def.Steps)),
		logging.Int("lineage", len(result.Lineage)),
		logging.Duration("duration", result.FinishedAt.Sub(started)),
	)
	return result
}

func (e *Executor) finish(state *runState, started time.Time, failedIndex int, err error) *Result {
	result := &Result{
		Status:     StatusCompleted,
		Outputs:    state.vars,
		Lineage:    state.lineage.IDs(),
		Steps:      state.steps,
		StartedAt:  started,
		FinishedAt: e.now(),
	}
	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		result.Error = err.Error()
		if failedIndex >= 0 {
			idx := failedIndex
			result.FailedStep = &idx
		}
	}
	return result
}

type callOutcome struct {
	result providers.Result
	err    error
}

func (e *Executor) runStep(ctx context.Context, index int, step StepDefinition, overrides map[string]string, state *runState) (StepReport, error) {
	ctx = services.WithStepIndex(ctx, index)
	ctx = services.WithProvider(ctx, step.Provider)
	report := StepReport{
		Index:    index,
		Step:     step.Step,
		Provider: step.Provider,
		Model:    step.ModelName(),
		Output:   step.OutputName(),
	}

	resolved := e.resolveStep(ctx, step, state)
	parts := buildParts(step, resolved)

	strategy := e.strategy
	if strings.TrimSpace(step.Strategy) != "" {
		parsed, err := router.ParseStrategy(step.Strategy)
		if err != nil {
			report.Error = err.Error()
			return report, services.Wrap(services.ErrConfiguration, "pipeline", "route", "invalid strategy", err)
		}
		strategy = parsed
	}
	binding, err := e.binder.Bind(ctx, step.Provider, router.Criteria{Strategy: strategy, RequiredTags: step.Tags})
	if err != nil {
		report.Error = err.Error()
		return report, err
	}
	if !binding.Bound() {
		secret, ok := lookupOverride(overrides, step.Provider)
		if !ok {
			err := services.Wrap(services.ErrConfiguration, "pipeline", "route",
				fmt.Sprintf("no eligible key for provider %s", step.Provider), nil)
			report.Error = err.Error()
			return report, err
		}
		binding = binding.WithSecret(secret)
	}
	report.Provider = binding.Adapter.Name()
	report.KeyID = binding.KeyID()
	if binding.Key != nil {
		ctx = services.WithKeyID(ctx, binding.Key.ID)
	}

	start := e.now()
	done := make(chan callOutcome, 1)
	go func() {
		res, err := binding.Call(ctx, step.ModelName(), resolved.ExtraParams, "", parts, step.TemperatureValue(), step.SeedValue())
		done <- callOutcome{result: res, err: err}
	}()

	var (
		outcome  callOutcome
		received bool
	)
	select {
	case outcome = <-done:
		received = true
	case <-ctx.Done():
	}
	if ctx.Err() != nil && (!received || outcome.err != nil) {
		// The call was abandoned; its result is not attributed to the key.
		err := services.Wrap(services.ErrTransport, "pipeline", "call", "run cancelled while waiting for provider", ctx.Err())
		report.Error = err.Error()
		return report, err
	}
	latency := float64(e.now().Sub(start).Microseconds()) / 1000
	report.LatencyMs = latency

	if outcome.err != nil {
		e.record(ctx, binding, keys.Outcome{LatencyMs: latency, Success: false})
		err := outcome.err
		if !errors.Is(err, services.ErrTransport) {
			err = services.Wrap(services.ErrTransport, "pipeline", "call", "provider call failed", err)
		}
		report.Error = err.Error()
		return report, err
	}
	e.record(ctx, binding, keys.Outcome{LatencyMs: latency, Success: true, QuotaConsumed: 1})

	report.Kind = outcome.result.Kind
	state.vars[step.OutputName()] = outcome.result.Content
	logging.WithContext(ctx, e.logger).Info("pipeline step completed",
		logging.String("step", step.Step),
		logging.String("model", report.Model),
		logging.String("output_var", report.Output),
		logging.String("kind", string(report.Kind)),
		logging.Float64("latency_ms", latency),
	)
	return report, nil
}

// resolveStep resolves every templated field of step, including string
// values nested in extra params. Each record referenced anywhere in the step
// joins the run's lineage, whether or not that field is sent.
func (e *Executor) resolveStep(ctx context.Context, step StepDefinition, state *runState) StepDefinition {
	resolve := func(value string) string {
		out, _ := e.resolver.Resolve(ctx, value, state.vars, state.lineage)
		return out
	}
	step.Prompt = resolve(step.Prompt)
	step.Text = resolve(step.Text)
	step.Input = resolve(step.Input)
	step.Image = resolve(step.Image)
	if len(step.ExtraParams) > 0 {
		step.ExtraParams = resolveValue(step.ExtraParams, resolve).(map[string]any)
	}
	return step
}

func resolveValue(value any, resolve func(string) string) any {
	switch v := value.(type) {
	case string:
		return resolve(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for _, key := range slices.Sorted(maps.Keys(v)) {
			out[key] = resolveValue(v[key], resolve)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = resolveValue(item, resolve)
		}
		return out
	default:
		return value
	}
}

// buildParts orders the resolved fields into typed parts: the first of
// prompt, text, input present in the definition as text, then image.
func buildParts(raw, resolved StepDefinition) []providers.Part {
	var parts []providers.Part
	fields := [][2]string{{raw.Prompt, resolved.Prompt}, {raw.Text, resolved.Text}, {raw.Input, resolved.Input}}
	for _, field := range fields {
		if field[0] == "" {
			continue
		}
		parts = append(parts, providers.Part{Type: providers.PartText, Data: field[1]})
		break
	}
	if raw.Image != "" {
		parts = append(parts, providers.Part{Type: providers.PartImage, Data: resolved.Image})
	}
	return parts
}

// record reports an outcome for a routed key. Override secrets are not in
// the registry and are skipped. Registry errors are logged, not returned.
func (e *Executor) record(ctx context.Context, binding providers.Binding, outcome keys.Outcome) {
	if binding.Key == nil || e.outcomes == nil {
		return
	}
	outcome.KeyID = binding.Key.ID
	if _, err := e.outcomes.RecordOutcome(ctx, binding.Adapter.Name(), outcome); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, e.logger), "record outcome failed", "outcome_record_failed",
			logging.Bool("success", outcome.Success),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "key statistics for this call were not updated"),
		)
	}
}

func lookupOverride(overrides map[string]string, provider string) (string, bool) {
	if secret := strings.TrimSpace(overrides[provider]); secret != "" {
		return secret, true
	}
	for name, secret := range overrides {
		if strings.EqualFold(strings.TrimSpace(name), strings.TrimSpace(provider)) && strings.TrimSpace(secret) != "" {
			return strings.TrimSpace(secret), true
		}
	}
	return "", false
}
