package testsupport

import (
	"context"
	"sync"
	"time"

	"comfyforge/internal/capability"
	"comfyforge/internal/providers"
)

// FakeCall records one adapter invocation.
type FakeCall struct {
	Config      providers.CallConfig
	System      string
	Parts       []providers.Part
	Temperature float64
	Seed        int64
}

// FakeAdapter is a scriptable providers.Adapter and providers.Validator.
type FakeAdapter struct {
	ProviderName string
	// Respond produces the call result; when nil the adapter echoes the joined text.
	Respond func(ctx context.Context, call FakeCall) (providers.Result, error)
	// Probe produces the validation result; when nil every secret is valid.
	Probe func(ctx context.Context, secret string) (providers.Validation, error)
	Delay time.Duration

	mu     sync.Mutex
	calls  []FakeCall
	probes []string
}

// NewFakeAdapter returns a fake adapter named name.
func NewFakeAdapter(name string) *FakeAdapter {
	return &FakeAdapter{ProviderName: name}
}

func (f *FakeAdapter) Name() string { return f.ProviderName }

func (f *FakeAdapter) Classify(model string) capability.Capability {
	return capability.Classify(capability.StripLabel(model))
}

func (f *FakeAdapter) Call(ctx context.Context, cfg providers.CallConfig, systemPrompt string, parts []providers.Part, temperature float64, seed int64) (providers.Result, error) {
	call := FakeCall{Config: cfg, System: systemPrompt, Parts: parts, Temperature: temperature, Seed: seed}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if f.Delay > 0 {
		timer := time.NewTimer(f.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return providers.Result{}, ctx.Err()
		case <-timer.C:
		}
	}
	if f.Respond != nil {
		return f.Respond(ctx, call)
	}
	return providers.Result{Kind: providers.ResultText, Content: providers.JoinText(parts)}, nil
}

func (f *FakeAdapter) Validate(ctx context.Context, secret string) (providers.Validation, error) {
	f.mu.Lock()
	f.probes = append(f.probes, secret)
	f.mu.Unlock()
	if f.Probe != nil {
		return f.Probe(ctx, secret)
	}
	return providers.Validation{Valid: true, Message: "ok"}, nil
}

// Calls returns a snapshot of recorded calls.
func (f *FakeAdapter) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.calls...)
}

// Probes returns the secrets passed to Validate.
func (f *FakeAdapter) Probes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.probes...)
}

type callOnlyAdapter struct {
	inner providers.Adapter
}

// WithoutValidator hides any Validate method on adapter.
func WithoutValidator(adapter providers.Adapter) providers.Adapter {
	return callOnlyAdapter{inner: adapter}
}

func (a callOnlyAdapter) Name() string { return a.inner.Name() }

func (a callOnlyAdapter) Classify(model string) capability.Capability {
	return a.inner.Classify(model)
}

func (a callOnlyAdapter) Call(ctx context.Context, cfg providers.CallConfig, systemPrompt string, parts []providers.Part, temperature float64, seed int64) (providers.Result, error) {
	return a.inner.Call(ctx, cfg, systemPrompt, parts, temperature, seed)
}
