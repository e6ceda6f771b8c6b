package providers

import (
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"comfyforge/internal/config"
)

// Constructor builds an adapter from connection settings.
type Constructor func(endpoint Endpoint, opts ...ClientOption) Adapter

// builtin is the fixed adapter table keyed by canonical provider name.
var builtin = map[string]Constructor{
	"OpenAI":   newCompat(openAIProfile),
	"Grok":     newCompat(grokProfile),
	"DeepSeek": newCompat(deepSeekProfile),
	"Qwen":     newCompat(qwenProfile),
	"Doubao":   newCompat(doubaoProfile),
	"Gemini":   newGemini,
	"Hailuo":   newHailuo,
}

// foldName builds a fresh Caser per call; Casers are stateful.
func foldName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// Table resolves provider names to constructed adapters.
type Table struct {
	adapters map[string]Adapter
	names    []string
}

// NewTable constructs every built-in adapter, applying per-provider overrides from cfg.
func NewTable(cfg *config.Config, opts ...ClientOption) *Table {
	t := &Table{adapters: make(map[string]Adapter, len(builtin))}
	for name, build := range builtin {
		var endpoint Endpoint
		if cfg != nil {
			override := cfg.Provider(name)
			endpoint = Endpoint{
				BaseURL:       override.BaseURL,
				ValidateURL:   override.ValidateURL,
				Timeout:       time.Duration(override.TimeoutSeconds) * time.Second,
				RetryAttempts: override.RetryAttempts,
			}
		}
		t.Register(build(endpoint, opts...))
	}
	return t
}

// NewTableWith builds a table from explicit adapters.
func NewTableWith(adapters ...Adapter) *Table {
	t := &Table{adapters: make(map[string]Adapter, len(adapters))}
	for _, adapter := range adapters {
		t.Register(adapter)
	}
	return t
}

// Register adds or replaces an adapter. Not safe for use after the table is shared.
func (t *Table) Register(adapter Adapter) {
	if adapter == nil {
		return
	}
	key := foldName(adapter.Name())
	if _, exists := t.adapters[key]; !exists {
		t.names = append(t.names, adapter.Name())
		slices.Sort(t.names)
	}
	t.adapters[key] = adapter
}

// Lookup returns the adapter for name, matched case-insensitively.
func (t *Table) Lookup(name string) (Adapter, bool) {
	if t == nil {
		return nil, false
	}
	adapter, ok := t.adapters[foldName(name)]
	return adapter, ok
}

// Names lists the canonical provider names in sorted order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	return slices.Clone(t.names)
}

// ValidatorFor returns the adapter's probe when it has one.
func ValidatorFor(adapter Adapter) (Validator, bool) {
	validator, ok := adapter.(Validator)
	if !ok {
		return nil, false
	}
	if gated, ok := adapter.(interface{ validates() bool }); ok && !gated.validates() {
		return nil, false
	}
	return validator, true
}
