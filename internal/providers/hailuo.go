package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"comfyforge/internal/capability"
)

const (
	hailuoBaseURL      = "https://api.hailuoai.com/v1"
	hailuoValidateURL  = "https://api.minimax.chat/v1/user/info"
	hailuoDefaultModel = "mini-max-v1"
)

// hailuoAdapter calls the multimodal endpoint with a flattened prompt.
type hailuoAdapter struct {
	endpoint Endpoint
	http     *client
}

func newHailuo(endpoint Endpoint, opts ...ClientOption) Adapter {
	endpoint = endpoint.withDefaults(hailuoBaseURL, hailuoValidateURL)
	return &hailuoAdapter{endpoint: endpoint, http: newClient(endpoint, opts...)}
}

func (a *hailuoAdapter) Name() string { return "Hailuo" }

func (a *hailuoAdapter) Classify(model string) capability.Capability {
	return capability.Classify(resolveModel(model, hailuoDefaultModel))
}

type hailuoResponse struct {
	Response json.RawMessage `json:"response"`
	BaseResp *struct {
		StatusCode int    `json:"status_code"`
		StatusMsg  string `json:"status_msg"`
	} `json:"base_resp"`
}

func (a *hailuoAdapter) Call(ctx context.Context, cfg CallConfig, systemPrompt string, parts []Part, temperature float64, seed int64) (Result, error) {
	model := resolveModel(cfg.Model, hailuoDefaultModel)
	if c := capability.Classify(model); c == capability.AudioGen {
		return Result{}, unsupported(a.Name(), model, c)
	}
	prompt := JoinText(parts)
	if strings.TrimSpace(systemPrompt) != "" {
		prompt = strings.TrimSpace(systemPrompt) + "\n\n" + prompt
	}
	payload := map[string]any{
		"model":       model,
		"prompt":      prompt,
		"temperature": temperature,
	}
	if images := Images(parts); len(images) > 0 {
		payload["image"] = images[0]
	}
	mergeExtra(payload, cfg.ExtraParams)

	var resp hailuoResponse
	err := a.http.doJSON(ctx, request{
		url:     a.endpoint.BaseURL + "/multimodal",
		headers: bearer(cfg.Secret),
		body:    payload,
	}, &resp)
	if err != nil {
		return Result{}, classifyErr(a.Name(), model, err)
	}
	if resp.BaseResp != nil && resp.BaseResp.StatusCode != 0 {
		return Result{}, &CallError{
			Reason:   ReasonUnknown,
			Provider: a.Name(),
			Model:    model,
			Body:     resp.BaseResp.StatusMsg,
		}
	}
	return Result{Kind: ResultText, Content: extractContent(resp.Response)}, nil
}

func (a *hailuoAdapter) Validate(ctx context.Context, secret string) (Validation, error) {
	body, err := a.http.sendOnce(ctx, request{method: http.MethodGet, url: a.endpoint.ValidateURL, headers: bearer(secret)})
	validation, verr := validationFromErr(err)
	if verr != nil || !validation.Valid {
		return validation, verr
	}
	var info struct {
		Data struct {
			Quota struct {
				Remaining *int64 `json:"remaining"`
			} `json:"quota"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &info); err == nil {
		validation.QuotaRemaining = info.Data.Quota.Remaining
	}
	return validation, nil
}
