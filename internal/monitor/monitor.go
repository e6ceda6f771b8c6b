// Package monitor periodically probes active keys and feeds the results into
// the key registry.
//
// One cooperative loop sweeps every active key whose last probe is older than
// the staleness window. Each probe runs under its own timeout and is isolated:
// a transport error or panic counts as a failed probe for that key only and
// never aborts the sweep. A probe abandoned because the loop is stopping is
// not recorded. Keys whose provider has no validation capability are skipped
// without touching their counters.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"comfyforge/internal/keys"
	"comfyforge/internal/logging"
	"comfyforge/internal/providers"
	"comfyforge/internal/services"
)

// Registry is the subset of the key store the monitor needs.
type Registry interface {
	Get(ctx context.Context, id int64) (*keys.Key, error)
	DueForProbe(ctx context.Context, staleBefore time.Time) ([]*keys.Key, error)
	ApplyProbe(ctx context.Context, id int64, result keys.ProbeResult) (*keys.Key, error)
	Now() time.Time
}

// Adapters resolves provider names to adapters.
type Adapters interface {
	Lookup(name string) (providers.Adapter, bool)
}

// Observer receives probe results, typically a metrics recorder.
type Observer interface {
	ObserveProbe(provider string, result string)
	ObserveDisabled(provider string)
}

// Probe result labels.
const (
	ResultValid   = "valid"
	ResultInvalid = "invalid"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Settings controls sweep cadence.
type Settings struct {
	Interval     time.Duration
	StaleAfter   time.Duration
	ProbeTimeout time.Duration
}

// Summary tallies one sweep.
type Summary struct {
	Due      int
	Valid    int
	Invalid  int
	Errors   int
	Skipped  int
	Disabled int
}

// Monitor probes keys on an interval.
type Monitor struct {
	registry Registry
	adapters Adapters
	settings Settings
	logger   *slog.Logger
	observer Observer
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logging.NewComponentLogger(logger, "monitor")
	}
}

// WithObserver attaches a probe observer.
func WithObserver(observer Observer) Option {
	return func(m *Monitor) {
		m.observer = observer
	}
}

// New constructs a monitor. Zero settings default to an hourly sweep of keys
// not probed within the hour and a 15 second probe timeout.
func New(registry Registry, adapters Adapters, settings Settings, opts ...Option) *Monitor {
	if settings.Interval <= 0 {
		settings.Interval = time.Hour
	}
	if settings.StaleAfter <= 0 {
		settings.StaleAfter = time.Hour
	}
	if settings.ProbeTimeout <= 0 {
		settings.ProbeTimeout = 15 * time.Second
	}
	m := &Monitor{
		registry: registry,
		adapters: adapters,
		settings: settings,
		logger:   logging.NewComponentLogger(nil, "monitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run sweeps immediately and then on every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.settings.Interval)
	defer ticker.Stop()

	m.logger.Info("key monitor started",
		logging.Duration("interval", m.settings.Interval),
		logging.Duration("stale_after", m.settings.StaleAfter),
	)
	for {
		if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(m.logger, "key sweep failed", "monitor_sweep_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the next sweep retries"),
			)
		}
		select {
		case <-ctx.Done():
			m.logger.Info("key monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep probes every due key once.
func (m *Monitor) Sweep(ctx context.Context) (Summary, error) {
	var summary Summary
	due, err := m.registry.DueForProbe(ctx, m.registry.Now().Add(-m.settings.StaleAfter))
	if err != nil {
		return summary, services.Wrap(services.ErrProbe, "monitor", "sweep", "list due keys", err)
	}
	summary.Due = len(due)
	for _, key := range due {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		result, updated := m.probeKey(ctx, key)
		switch result {
		case ResultValid:
			summary.Valid++
		case ResultInvalid:
			summary.Invalid++
		case ResultError:
			summary.Errors++
		case ResultSkipped:
			summary.Skipped++
		}
		if updated != nil && key.Active && !updated.Active {
			summary.Disabled++
		}
	}
	if summary.Due > 0 {
		m.logger.Info("key sweep finished",
			logging.Int("due", summary.Due),
			logging.Int("valid", summary.Valid),
			logging.Int("invalid", summary.Invalid),
			logging.Int("errors", summary.Errors),
			logging.Int("skipped", summary.Skipped),
			logging.Int("disabled", summary.Disabled),
		)
	}
	return summary, nil
}

// Check probes one key on demand. A successful manual check also reactivates
// a disabled key.
func (m *Monitor) Check(ctx context.Context, id int64) (*keys.Key, providers.Validation, error) {
	key, err := m.registry.Get(ctx, id)
	if err != nil {
		return nil, providers.Validation{}, err
	}
	if key == nil {
		return nil, providers.Validation{}, services.Wrap(services.ErrNotFound, "monitor", "check", fmt.Sprintf("key %d", id), nil)
	}
	adapter, ok := m.adapters.Lookup(key.Provider)
	if !ok {
		return key, providers.Validation{}, services.Wrap(services.ErrConfiguration, "monitor", "check",
			fmt.Sprintf("unknown provider %q", key.Provider), nil)
	}
	if _, ok := providers.ValidatorFor(adapter); !ok {
		return key, providers.Validation{}, services.Wrap(services.ErrConfiguration, "monitor", "check",
			fmt.Sprintf("provider %s has no validation capability", adapter.Name()), nil)
	}
	validation, probeErr := m.validate(ctx, adapter, key)
	if ctx.Err() != nil {
		return key, providers.Validation{}, services.Wrap(services.ErrProbe, "monitor", "check", "check abandoned", ctx.Err())
	}
	updated, err := m.apply(ctx, key, validation, probeErr, true)
	if err != nil {
		return key, validation, err
	}
	result := ResultValid
	switch {
	case probeErr != nil:
		result = ResultError
		validation = providers.Validation{Valid: false, Message: probeErr.Error()}
	case !validation.Valid:
		result = ResultInvalid
	}
	m.observe(adapter.Name(), result)
	logging.WithContext(ctx, m.logger).Info("manual key check",
		logging.Int64(logging.FieldKeyID, key.ID),
		logging.String(logging.FieldProvider, adapter.Name()),
		logging.String("result", result),
		logging.Bool("active", updated.Active),
	)
	return updated, validation, nil
}

// probeKey runs one probe and records it. Errors are logged, never returned.
func (m *Monitor) probeKey(ctx context.Context, key *keys.Key) (string, *keys.Key) {
	ctx = services.WithKeyID(services.WithProvider(ctx, key.Provider), key.ID)
	logger := logging.WithContext(ctx, m.logger)

	adapter, ok := m.adapters.Lookup(key.Provider)
	if !ok {
		m.observe(key.Provider, ResultSkipped)
		logger.Debug("probe skipped: unknown provider")
		return ResultSkipped, nil
	}
	if _, ok := providers.ValidatorFor(adapter); !ok {
		m.observe(adapter.Name(), ResultSkipped)
		logger.Debug("probe skipped: provider has no validation capability")
		return ResultSkipped, nil
	}

	validation, probeErr := m.validate(ctx, adapter, key)
	if ctx.Err() != nil {
		m.observe(adapter.Name(), ResultSkipped)
		logger.Debug("probe abandoned", logging.Error(ctx.Err()))
		return ResultSkipped, nil
	}
	updated, err := m.apply(ctx, key, validation, probeErr, false)
	if err != nil {
		logging.WarnWithContext(logger, "record probe failed", "probe_record_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.Kind(err)),
		)
		return ResultError, nil
	}

	result := ResultValid
	switch {
	case probeErr != nil:
		result = ResultError
		logging.WarnWithContext(logger, "key probe errored", "probe_error",
			logging.Error(probeErr),
			logging.Int64("failure_count", updated.FailureCount),
			logging.String(logging.FieldErrorHint, "counted as a failed probe"),
		)
	case !validation.Valid:
		result = ResultInvalid
		logging.WarnWithContext(logger, "key probe rejected", "probe_invalid",
			logging.String("message", validation.Message),
			logging.Int64("failure_count", updated.FailureCount),
		)
	default:
		logger.Debug("key probe ok", logging.Int64("quota_remaining", updated.QuotaRemaining))
	}
	m.observe(adapter.Name(), result)
	if key.Active && !updated.Active {
		if m.observer != nil {
			m.observer.ObserveDisabled(adapter.Name())
		}
		logging.WarnWithContext(logger, "key disabled after failed probes", "key_disabled",
			logging.Int64("failure_count", updated.FailureCount),
			logging.String(logging.FieldErrorHint, "re-enable the key once the credential is fixed"),
		)
	}
	return result, updated
}

// validate calls the adapter's probe under the per-probe timeout and turns
// panics into errors.
func (m *Monitor) validate(ctx context.Context, adapter providers.Adapter, key *keys.Key) (validation providers.Validation, err error) {
	validator, _ := providers.ValidatorFor(adapter)
	probeCtx, cancel := context.WithTimeout(ctx, m.settings.ProbeTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = services.Wrap(services.ErrProbe, "monitor", "validate", fmt.Sprintf("probe panicked: %v", r), nil)
		}
	}()
	validation, err = validator.Validate(probeCtx, key.Secret)
	if err != nil {
		err = services.Wrap(services.ErrProbe, "monitor", "validate", "probe transport error", err)
	}
	return validation, err
}

func (m *Monitor) apply(ctx context.Context, key *keys.Key, validation providers.Validation, probeErr error, reactivate bool) (*keys.Key, error) {
	result := keys.ProbeResult{Valid: probeErr == nil && validation.Valid, Reactivate: reactivate}
	if result.Valid {
		result.QuotaRemaining = validation.QuotaRemaining
	}
	// The probe context may have expired; the registry write must still land.
	return m.registry.ApplyProbe(context.WithoutCancel(ctx), key.ID, result)
}

func (m *Monitor) observe(provider, result string) {
	if m.observer != nil {
		m.observer.ObserveProbe(provider, result)
	}
}
