package providers

import (
	"context"
	"strings"
	"time"

	"comfyforge/internal/capability"
)

// PartType identifies one element of a multimodal input.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// Part is one typed input element. Image data is base64 or a data URI.
type Part struct {
	Type PartType `json:"type"`
	Data string   `json:"data"`
}

// ResultKind identifies the payload returned by a call.
type ResultKind string

const (
	ResultText  ResultKind = "text"
	ResultImage ResultKind = "image"
	ResultAudio ResultKind = "audio"
)

// Result is a call's output. Image and audio content is base64.
type Result struct {
	Kind    ResultKind `json:"kind"`
	Content string     `json:"content"`
}

// CallConfig carries everything a single call needs, including the secret.
type CallConfig struct {
	Provider    string
	Secret      string
	Model       string
	ExtraParams map[string]any
}

// Validation is the outcome of a credential probe.
type Validation struct {
	Valid          bool   `json:"valid"`
	QuotaRemaining *int64 `json:"quota_remaining,omitempty"`
	Message        string `json:"message"`
}

// Adapter is the uniform invocation contract for one provider.
type Adapter interface {
	Name() string
	Classify(model string) capability.Capability
	Call(ctx context.Context, cfg CallConfig, systemPrompt string, parts []Part, temperature float64, seed int64) (Result, error)
}

// Validator is implemented by adapters that can probe a credential.
type Validator interface {
	Validate(ctx context.Context, secret string) (Validation, error)
}

// Endpoint holds per-provider connection settings.
type Endpoint struct {
	BaseURL       string
	ValidateURL   string
	Timeout       time.Duration
	RetryAttempts int
}

func (e Endpoint) withDefaults(baseURL, validateURL string) Endpoint {
	if strings.TrimSpace(e.BaseURL) == "" {
		e.BaseURL = baseURL
	}
	e.BaseURL = strings.TrimRight(e.BaseURL, "/")
	if strings.TrimSpace(e.ValidateURL) == "" {
		e.ValidateURL = validateURL
	}
	if e.Timeout <= 0 {
		e.Timeout = defaultHTTPTimeout
	}
	if e.RetryAttempts <= 0 {
		e.RetryAttempts = 1
	}
	return e
}

// JoinText concatenates text parts with blank lines.
func JoinText(parts []Part) string {
	var texts []string
	for _, part := range parts {
		if part.Type == PartText {
			texts = append(texts, part.Data)
		}
	}
	return strings.Join(texts, "\n\n")
}

// Images returns the image parts' data in order.
func Images(parts []Part) []string {
	var images []string
	for _, part := range parts {
		if part.Type == PartImage {
			images = append(images, part.Data)
		}
	}
	return images
}

// ImageDataURI normalizes base64 image data to a data URI.
func ImageDataURI(data string) string {
	clean := strings.TrimSpace(strings.NewReplacer("\n", "", "\r", "").Replace(data))
	if clean == "" {
		return ""
	}
	if strings.HasPrefix(clean, "data:image") || strings.HasPrefix(clean, "http://") || strings.HasPrefix(clean, "https://") {
		return clean
	}
	return "data:image/jpeg;base64," + clean
}

// resolveModel strips UI labels and maps "default" to the adapter's model.
func resolveModel(model, fallback string) string {
	model = strings.TrimSpace(capability.StripLabel(strings.TrimSpace(model)))
	if model == "" || strings.EqualFold(model, "default") {
		return fallback
	}
	return model
}
