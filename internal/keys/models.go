package keys

import (
	"strings"
	"time"
)

// DisableThreshold is the failure count at which a key is deactivated.
const DisableThreshold = 3

// State is the lifecycle state derived from a key's row.
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateDisabled State = "disabled"
)

// Key is one stored provider credential plus usage metadata.
type Key struct {
	ID             int64             `json:"id"`
	Provider       string            `json:"provider"`
	Secret         string            `json:"-"`
	Description    string            `json:"description"`
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
	AvgLatencyMs   float64           `json:"avg_latency_ms"`
	LastUsedAt     *time.Time        `json:"last_used_at,omitempty"`
	LastCheckedAt  *time.Time        `json:"last_checked_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// State reports the key's lifecycle state.
func (k *Key) State() State {
	switch {
	case k == nil || !k.Active:
		return StateDisabled
	case k.FailureCount > 0:
		return StateDegraded
	default:
		return StateHealthy
	}
}

// Expired reports whether the key has an expiry at or before now.
func (k *Key) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// HasTags reports whether the key carries every tag in required.
func (k *Key) HasTags(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(k.Tags))
	for _, tag := range k.Tags {
		have[tag] = struct{}{}
	}
	for _, tag := range required {
		if _, ok := have[strings.TrimSpace(tag)]; !ok {
			return false
		}
	}
	return true
}

// SuccessRate returns successes over total calls, or 0 with no calls.
func (k *Key) SuccessRate() float64 {
	total := k.SuccessCount + k.FailureCount
	if total == 0 {
		return 0
	}
	return float64(k.SuccessCount) / float64(total)
}

// MaskedSecret returns the secret with all but its edges hidden.
func (k *Key) MaskedSecret() string {
	secret := k.Secret
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// Registration describes a new key.
type Registration struct {
	Provider     string            `json:"provider"`
	Secret       string            `json:"key"`
	Description  string            `json:"description"`
	Inactive     bool              `json:"inactive"`
	Priority     int               `json:"priority"`
	Tags         []string          `json:"tags"`
	QuotaTotal   int64             `json:"quota_total"`
	QuotaUnit    string            `json:"quota_unit"`
	PricePerCall float64           `json:"price_per_call"`
	BillingType  string            `json:"billing_type"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Outcome is the result of one provider invocation attempt.
type Outcome struct {
	KeyID     int64
	LatencyMs float64
	Success   bool
	// QuotaConsumed is subtracted from the remaining quota on success only.
	QuotaConsumed int64
}

// ProbeResult is the result of one validation probe.
type ProbeResult struct {
	Valid bool
	// QuotaRemaining replaces the stored value when the provider reports one.
	QuotaRemaining *int64
	// Reactivate marks the key active on success. Manual checks set it;
	// the background monitor does not.
	Reactivate bool
}

// Filter narrows List results.
type Filter struct {
	Provider string
	Active   *bool
}

// Patch updates mutable descriptive fields. Nil fields are left unchanged.
type Patch struct {
	Description  *string    `json:"description,omitempty"`
	Priority     *int       `json:"priority,omitempty"`
	Tags         *[]string  `json:"tags,omitempty"`
	PricePerCall *float64   `json:"price_per_call,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
