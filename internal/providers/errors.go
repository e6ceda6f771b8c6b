package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"comfyforge/internal/capability"
	"comfyforge/internal/services"
)

// Reason classifies a failed provider call.
type Reason string

const (
	ReasonAuth        Reason = "auth"        // 401/403
	ReasonRateLimit   Reason = "rate_limit"  // 429
	ReasonBilling     Reason = "billing"     // 402
	ReasonTimeout     Reason = "timeout"     // 408/504/deadline
	ReasonOverloaded  Reason = "overloaded"  // 500/502/503/529
	ReasonFormat      Reason = "format"      // 400
	ReasonUnsupported Reason = "unsupported" // capability has no call path
	ReasonUnknown     Reason = "unknown"
)

// CallError is a provider transport failure. It matches services.ErrTransport.
type CallError struct {
	Reason   Reason
	Provider string
	Model    string
	Status   int
	Body     string
	Err      error
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("%s/%s call failed (%s", e.Provider, e.Model, e.Reason)
	if e.Status > 0 {
		msg += fmt.Sprintf(", status %d", e.Status)
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	} else if e.Body != "" {
		msg += ": " + summarize(e.Body)
	}
	return msg
}

func (e *CallError) Unwrap() error { return e.Err }

// Is reports transport classification for errors.Is.
func (e *CallError) Is(target error) bool {
	return target == services.ErrTransport
}

// ReasonOf extracts the classification from err, or ReasonUnknown.
func ReasonOf(err error) Reason {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonUnknown
}

func reasonFromStatus(status int) Reason {
	switch status {
	case http.StatusBadRequest:
		return ReasonFormat
	case http.StatusUnauthorized, http.StatusForbidden:
		return ReasonAuth
	case http.StatusPaymentRequired:
		return ReasonBilling
	case http.StatusTooManyRequests:
		return ReasonRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ReasonTimeout
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, 529:
		return ReasonOverloaded
	default:
		return ReasonUnknown
	}
}

func classifyErr(provider, model string, err error) *CallError {
	var callErr *CallError
	if errors.As(err, &callErr) {
		if callErr.Provider == "" {
			callErr.Provider = provider
		}
		if callErr.Model == "" {
			callErr.Model = model
		}
		return callErr
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return &CallError{
			Reason:   reasonFromStatus(statusErr.StatusCode),
			Provider: provider,
			Model:    model,
			Status:   statusErr.StatusCode,
			Body:     statusErr.Body,
		}
	}
	reason := ReasonUnknown
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		reason = ReasonTimeout
	}
	return &CallError{Reason: reason, Provider: provider, Model: model, Err: err}
}

func unsupported(provider, model string, c capability.Capability) *CallError {
	return &CallError{
		Reason:   ReasonUnsupported,
		Provider: provider,
		Model:    model,
		Err:      fmt.Errorf("%s generation is not supported by this adapter", c),
	}
}

func summarize(body string) string {
	const limit = 240
	if len(body) <= limit {
		return body
	}
	return body[:limit] + "..."
}
