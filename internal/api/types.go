package api

import (
	"time"

	"comfyforge/internal/keys"
	"comfyforge/internal/pipeline"
	"comfyforge/internal/runs"
)

// SubmitRequest is the pipeline submission body.
type SubmitRequest struct {
	Name         string                    `json:"name,omitempty"`
	Pipeline     []pipeline.StepDefinition `json:"pipeline"`
	KeyOverrides map[string]string         `json:"key_overrides,omitempty"`
	Sync         bool                      `json:"sync"`
}

// Definition converts the request into a pipeline definition.
func (r SubmitRequest) Definition() pipeline.Definition {
	return pipeline.Definition{
		Name:         r.Name,
		Steps:        r.Pipeline,
		KeyOverrides: r.KeyOverrides,
	}
}

// RunListResponse wraps recent run records.
type RunListResponse struct {
	Runs []*runs.Record `json:"runs"`
}

// KeyView is the transport form of a registry key.
type KeyView struct {
	ID             int64             `json:"id"`
	Provider       string            `json:"provider"`
	Secret         string            `json:"key"`
	Description    string            `json:"description"`
	State          string            `json:"state"`
	Active         bool              `json:"is_active"`
	Priority       int               `json:"priority"`
	Tags           []string          `json:"tags"`
	QuotaTotal     int64             `json:"quota_total"`
	QuotaRemaining int64             `json:"quota_remaining"`
	QuotaUnit      string            `json:"quota_unit"`
	PricePerCall   float64           `json:"price_per_call"`
	BillingType    string            `json:"billing_type"`
	SuccessCount   int64             `json:"success_count"`
	FailureCount   int64             `json:"failure_count"`
	SuccessRate    float64           `json:"success_rate"`
	AvgLatencyMs   float64           `json:"avg_latency_ms"`
	LastUsedAt     string            `json:"last_used_at,omitempty"`
	LastCheckedAt  string            `json:"last_checked_at,omitempty"`
	CreatedAt      string            `json:"created_at"`
	ExpiresAt      string            `json:"expires_at,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// FromKey converts a registry key, masking its secret.
func FromKey(k *keys.Key) KeyView {
	if k == nil {
		return KeyView{}
	}
	tags := k.Tags
	if tags == nil {
		tags = []string{}
	}
	return KeyView{
		ID:             k.ID,
		Provider:       k.Provider,
		Secret:         k.MaskedSecret(),
		Description:    k.Description,
		State:          string(k.State()),
		Active:         k.Active,
		Priority:       k.Priority,
		Tags:           tags,
		QuotaTotal:     k.QuotaTotal,
		QuotaRemaining: k.QuotaRemaining,
		QuotaUnit:      k.QuotaUnit,
		PricePerCall:   k.PricePerCall,
		BillingType:    k.BillingType,
		SuccessCount:   k.SuccessCount,
		FailureCount:   k.FailureCount,
		SuccessRate:    k.SuccessRate(),
		AvgLatencyMs:   k.AvgLatencyMs,
		LastUsedAt:     formatTime(k.LastUsedAt),
		LastCheckedAt:  formatTime(k.LastCheckedAt),
		CreatedAt:      formatTime(&k.CreatedAt),
		ExpiresAt:      formatTime(k.ExpiresAt),
		Metadata:       k.Metadata,
	}
}

// FromKeys converts a slice of keys.
func FromKeys(list []*keys.Key) []KeyView {
	out := make([]KeyView, 0, len(list))
	for _, k := range list {
		out = append(out, FromKey(k))
	}
	return out
}

// KeyListResponse wraps a key listing.
type KeyListResponse struct {
	Keys []KeyView `json:"keys"`
}

// CheckResponse reports a manual validation probe.
type CheckResponse struct {
	Key            KeyView `json:"key"`
	Valid          bool    `json:"valid"`
	QuotaRemaining *int64  `json:"quota_remaining,omitempty"`
	Message        string  `json:"message,omitempty"`
}

// ProviderInfo describes one built-in adapter.
type ProviderInfo struct {
	Name      string `json:"name"`
	Validates bool   `json:"validates"`
}

// ProviderListResponse wraps the adapter table.
type ProviderListResponse struct {
	Providers []ProviderInfo `json:"providers"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
