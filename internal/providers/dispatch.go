package providers

import (
	"context"
	"fmt"

	"comfyforge/internal/keys"
	"comfyforge/internal/router"
	"comfyforge/internal/services"
)

// Selector chooses a key for a provider.
type Selector interface {
	Select(ctx context.Context, provider string, criteria router.Criteria) (*keys.Key, error)
}

// Binding pairs an adapter with the key selected for one call. It is a value:
// each caller owns its copy and nothing in it is shared or mutated later.
type Binding struct {
	Adapter Adapter
	Key     *keys.Key
	Secret  string
}

// Bound reports whether a routed key or override secret is attached.
func (b Binding) Bound() bool {
	return b.Secret != ""
}

// KeyID returns the routed key's id, or zero when none was routed.
func (b Binding) KeyID() int64 {
	if b.Key == nil {
		return 0
	}
	return b.Key.ID
}

// WithSecret returns a copy carrying an override secret and no routed key.
func (b Binding) WithSecret(secret string) Binding {
	return Binding{Adapter: b.Adapter, Secret: secret}
}

// Call invokes the bound adapter with the bound secret.
func (b Binding) Call(ctx context.Context, model string, extra map[string]any, systemPrompt string, parts []Part, temperature float64, seed int64) (Result, error) {
	if b.Adapter == nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "providers", "call", "binding has no adapter", nil)
	}
	return b.Adapter.Call(ctx, CallConfig{
		Provider:    b.Adapter.Name(),
		Secret:      b.Secret,
		Model:       model,
		ExtraParams: extra,
	}, systemPrompt, parts, temperature, seed)
}

// Dispatcher resolves a provider name to an adapter and a routed key.
type Dispatcher struct {
	table    *Table
	selector Selector
}

// NewDispatcher constructs a dispatcher over table using selector for key routing.
func NewDispatcher(table *Table, selector Selector) *Dispatcher {
	return &Dispatcher{table: table, selector: selector}
}

// Table exposes the adapter table.
func (d *Dispatcher) Table() *Table {
	return d.table
}

// Bind looks up the provider's adapter and selects a key for it. An unknown
// provider is a configuration error. When no key is eligible the binding is
// returned unbound with a nil error so callers may apply an override secret.
func (d *Dispatcher) Bind(ctx context.Context, provider string, criteria router.Criteria) (Binding, error) {
	adapter, ok := d.table.Lookup(provider)
	if !ok {
		return Binding{}, services.Wrap(
			services.ErrConfiguration,
			"providers",
			"bind",
			fmt.Sprintf("unknown provider %q", provider),
			nil,
		)
	}
	binding := Binding{Adapter: adapter}
	if d.selector == nil {
		return binding, nil
	}
	key, err := d.selector.Select(ctx, adapter.Name(), criteria)
	if err != nil {
		return Binding{}, err
	}
	if key != nil {
		binding.Key = key
		binding.Secret = key.Secret
	}
	return binding, nil
}
