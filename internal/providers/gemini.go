package providers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"comfyforge/internal/capability"
)

const (
	geminiBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel = "gemini-1.5-flash"
)

type geminiAdapter struct {
	endpoint Endpoint
	http     *client
}

func newGemini(endpoint Endpoint, opts ...ClientOption) Adapter {
	endpoint = endpoint.withDefaults(geminiBaseURL, "")
	if endpoint.ValidateURL == "" {
		endpoint.ValidateURL = endpoint.BaseURL + "/models"
	}
	return &geminiAdapter{endpoint: endpoint, http: newClient(endpoint, opts...)}
}

func (a *geminiAdapter) Name() string { return "Gemini" }

func (a *geminiAdapter) Classify(model string) capability.Capability {
	return capability.Classify(resolveModel(model, geminiDefaultModel))
}

type geminiPart struct {
	Text       string        `json:"text,omitempty"`
	InlineData *geminiInline `json:"inline_data,omitempty"`
}

type geminiInline struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text       string `json:"text"`
				InlineData *struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (a *geminiAdapter) Call(ctx context.Context, cfg CallConfig, systemPrompt string, parts []Part, temperature float64, seed int64) (Result, error) {
	model := resolveModel(cfg.Model, geminiDefaultModel)
	if c := capability.Classify(model); c == capability.VideoGen || c == capability.AudioGen {
		return Result{}, unsupported(a.Name(), model, c)
	}

	content := geminiContent{Role: "user"}
	for _, part := range parts {
		switch part.Type {
		case PartText:
			content.Parts = append(content.Parts, geminiPart{Text: part.Data})
		case PartImage:
			data := stripDataURIPrefix(part.Data)
			if data != "" {
				content.Parts = append(content.Parts, geminiPart{InlineData: &geminiInline{MimeType: "image/jpeg", Data: data}})
			}
		}
	}
	generation := mergeExtra(map[string]any{"temperature": temperature, "seed": seed}, cfg.ExtraParams)
	payload := map[string]any{
		"contents":          []geminiContent{content},
		"generation_config": generation,
	}
	if strings.TrimSpace(systemPrompt) != "" {
		payload["system_instruction"] = geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}

	var resp geminiResponse
	err := a.http.doJSON(ctx, request{
		url:     a.endpoint.BaseURL + "/models/" + url.PathEscape(model) + ":generateContent",
		headers: map[string]string{"x-goog-api-key": strings.TrimSpace(cfg.Secret)},
		body:    payload,
	}, &resp)
	if err != nil {
		return Result{}, classifyErr(a.Name(), model, err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		msg := "response contained no candidates"
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			msg = "prompt blocked: " + resp.PromptFeedback.BlockReason
		}
		return Result{}, &CallError{Reason: ReasonFormat, Provider: a.Name(), Model: model, Err: errors.New(msg)}
	}
	first := resp.Candidates[0].Content.Parts[0]
	if first.InlineData != nil && first.InlineData.Data != "" {
		kind := ResultImage
		if strings.HasPrefix(first.InlineData.MimeType, "audio/") {
			kind = ResultAudio
		}
		return Result{Kind: kind, Content: first.InlineData.Data}, nil
	}
	return Result{Kind: ResultText, Content: first.Text}, nil
}

func (a *geminiAdapter) Validate(ctx context.Context, secret string) (Validation, error) {
	_, err := a.http.sendOnce(ctx, request{
		method:  http.MethodGet,
		url:     a.endpoint.ValidateURL,
		headers: map[string]string{"x-goog-api-key": strings.TrimSpace(secret)},
	})
	return validationFromErr(err)
}

func stripDataURIPrefix(data string) string {
	data = strings.TrimSpace(data)
	if strings.HasPrefix(data, "data:") {
		if idx := strings.Index(data, ","); idx >= 0 {
			return data[idx+1:]
		}
	}
	return data
}
