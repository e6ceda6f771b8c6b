// Package router ranks eligible keys for a provider and feeds call outcomes
// back into the key registry.
//
// Select is a pure read: it never reserves or mutates a key, so concurrent
// callers may receive the same key. Callers report what happened through
// RecordOutcome after the call attempt.
package router

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"comfyforge/internal/keys"
	"comfyforge/internal/logging"
)

// Registry is the subset of the key store the router needs.
type Registry interface {
	Eligible(ctx context.Context, provider string, minQuota int64, requiredTags []string) ([]*keys.Key, error)
	RecordOutcome(ctx context.Context, outcome keys.Outcome) (*keys.Key, error)
}

// Observer receives routing events, typically a metrics recorder.
type Observer interface {
	ObserveSelection(provider string, strategy string, found bool)
	ObserveOutcome(provider string, success bool, latencyMs float64)
	ObserveDisabled(provider string)
}

// Criteria narrows and orders a selection.
type Criteria struct {
	Strategy     Strategy
	RequiredTags []string
	// MinQuota defaults to 1 when zero.
	MinQuota int64
}

// Router selects keys from a Registry.
type Router struct {
	registry Registry
	logger   *slog.Logger
	observer Observer
	minQuota int64

	randMu sync.Mutex
	rand   *rand.Rand
}

// Option customizes a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logging.NewComponentLogger(logger, "router")
	}
}

// WithObserver attaches an event observer.
func WithObserver(observer Observer) Option {
	return func(r *Router) {
		r.observer = observer
	}
}

// WithRand overrides the random source used by the Random strategy.
func WithRand(source *rand.Rand) Option {
	return func(r *Router) {
		if source != nil {
			r.rand = source
		}
	}
}

// WithDefaultMinQuota sets the minimum quota used when Criteria leaves it zero.
func WithDefaultMinQuota(minQuota int64) Option {
	return func(r *Router) {
		if minQuota > 0 {
			r.minQuota = minQuota
		}
	}
}

// New constructs a Router over registry.
func New(registry Registry, opts ...Option) *Router {
	r := &Router{
		registry: registry,
		logger:   logging.NewComponentLogger(nil, "router"),
		minQuota: 1,
		rand:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Select returns the best eligible key for provider, or nil when none is
// eligible. A nil key is a configuration problem for the caller, not
// something to retry.
func (r *Router) Select(ctx context.Context, provider string, criteria Criteria) (*keys.Key, error) {
	minQuota := criteria.MinQuota
	if minQuota <= 0 {
		minQuota = r.minQuota
	}
	strategy := criteria.Strategy
	if strategy == "" {
		strategy = Balanced
	}

	eligible, err := r.registry.Eligible(ctx, provider, minQuota, criteria.RequiredTags)
	if err != nil {
		return nil, err
	}

	chosen := r.rank(strategy, eligible)
	if r.observer != nil {
		r.observer.ObserveSelection(provider, string(strategy), chosen != nil)
	}
	logger := logging.WithContext(ctx, r.logger)
	if chosen == nil {
		logger.Debug("no eligible key",
			logging.String(logging.FieldProvider, provider),
			logging.String("strategy", string(strategy)),
			logging.String("required_tags", strings.Join(criteria.RequiredTags, ",")),
		)
		return nil, nil
	}
	logger.Debug("key selected",
		logging.String(logging.FieldProvider, provider),
		logging.Int64(logging.FieldKeyID, chosen.ID),
		logging.String("strategy", string(strategy)),
		logging.Int("candidates", len(eligible)),
	)
	return chosen, nil
}

func (r *Router) rank(strategy Strategy, eligible []*keys.Key) *keys.Key {
	if len(eligible) == 0 {
		return nil
	}
	if strategy == Random {
		r.randMu.Lock()
		idx := r.rand.IntN(len(eligible))
		r.randMu.Unlock()
		return eligible[idx]
	}

	ordered := slices.Clone(eligible)
	slices.SortStableFunc(ordered, func(a, b *keys.Key) int {
		switch strategy {
		case CostFirst:
			if c := compareFloat(a.PricePerCall, b.PricePerCall); c != 0 {
				return c
			}
		case SpeedFirst:
			if c := compareFloat(a.AvgLatencyMs, b.AvgLatencyMs); c != 0 {
				return c
			}
		}
		return a.Priority - b.Priority
	})
	return ordered[0]
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// RecordOutcome reports one call attempt for a selected key.
func (r *Router) RecordOutcome(ctx context.Context, provider string, outcome keys.Outcome) (*keys.Key, error) {
	updated, err := r.registry.RecordOutcome(ctx, outcome)
	if err != nil {
		return nil, err
	}
	if r.observer != nil {
		r.observer.ObserveOutcome(provider, outcome.Success, outcome.LatencyMs)
	}
	logger := logging.WithContext(ctx, r.logger)
	if !outcome.Success && !updated.Active && updated.FailureCount == keys.DisableThreshold {
		if r.observer != nil {
			r.observer.ObserveDisabled(provider)
		}
		logging.WarnWithContext(logger, "key disabled after repeated failures", "key_disabled",
			logging.String(logging.FieldProvider, provider),
			logging.Int64(logging.FieldKeyID, updated.ID),
			logging.Int64("failure_count", updated.FailureCount),
			logging.String(logging.FieldErrorHint, "verify the credential and re-enable it with 'comfyforge keys enable'"),
			logging.String(logging.FieldImpact, "key is excluded from routing"),
		)
	}
	return updated, nil
}
