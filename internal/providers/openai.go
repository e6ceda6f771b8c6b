package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"comfyforge/internal/capability"
)

// compatProfile describes one OpenAI-compatible provider.
type compatProfile struct {
	name         string
	baseURL      string
	validateURL  string
	defaultModel string
	vision       bool // sends image parts as image_url content
	imageGen     bool // exposes {base}/images/generations
	sendSeed     bool
}

var (
	openAIProfile = compatProfile{
		name:         "OpenAI",
		baseURL:      "https://api.openai.com/v1",
		validateURL:  "https://api.openai.com/v1/models",
		defaultModel: "gpt-4o",
		vision:       true,
		imageGen:     true,
		sendSeed:     true,
	}
	grokProfile = compatProfile{
		name:         "Grok",
		baseURL:      "https://api.x.ai/v1",
		validateURL:  "https://api.x.ai/v1/models",
		defaultModel: "grok-2-latest",
	}
	deepSeekProfile = compatProfile{
		name:         "DeepSeek",
		baseURL:      "https://api.deepseek.com/v1",
		validateURL:  "https://api.deepseek.com/models",
		defaultModel: "deepseek-chat",
	}
	qwenProfile = compatProfile{
		name:         "Qwen",
		baseURL:      "https://dashscope.aliyuncs.com/compatible-mode/v1",
		validateURL:  "https://dashscope.aliyuncs.com/compatible-mode/v1/models",
		defaultModel: "qwen-turbo",
		vision:       true,
		imageGen:     true,
	}
	doubaoProfile = compatProfile{
		name:         "Doubao",
		baseURL:      "https://ark.cn-beijing.volces.com/api/v3",
		defaultModel: "doubao-pro-32k",
		vision:       true,
		imageGen:     true,
	}
)

// compatAdapter speaks the OpenAI chat completions and image generation APIs.
type compatAdapter struct {
	profile  compatProfile
	endpoint Endpoint
	http     *client
}

func newCompat(profile compatProfile) Constructor {
	return func(endpoint Endpoint, opts ...ClientOption) Adapter {
		endpoint = endpoint.withDefaults(profile.baseURL, profile.validateURL)
		return &compatAdapter{profile: profile, endpoint: endpoint, http: newClient(endpoint, opts...)}
	}
}

func (a *compatAdapter) Name() string { return a.profile.name }

func (a *compatAdapter) Classify(model string) capability.Capability {
	return capability.Classify(resolveModel(model, a.profile.defaultModel))
}

func (a *compatAdapter) Call(ctx context.Context, cfg CallConfig, systemPrompt string, parts []Part, temperature float64, seed int64) (Result, error) {
	model := resolveModel(cfg.Model, a.profile.defaultModel)
	var (
		result Result
		err    error
	)
	switch c := capability.Classify(model); c {
	case capability.ImageGen:
		if !a.profile.imageGen {
			return Result{}, unsupported(a.profile.name, model, c)
		}
		result, err = a.generateImage(ctx, cfg, model, parts)
	case capability.VideoGen, capability.AudioGen:
		return Result{}, unsupported(a.profile.name, model, c)
	default:
		result, err = a.chat(ctx, cfg, model, systemPrompt, parts, temperature, seed)
	}
	if err != nil {
		return Result{}, classifyErr(a.profile.name, model, err)
	}
	return result, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
			Refusal string          `json:"refusal"`
			Audio   *struct {
				Data string `json:"data"`
			} `json:"audio"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Code    any    `json:"code"`
}

func (a *compatAdapter) messages(systemPrompt string, parts []Part) []chatMessage {
	var messages []chatMessage
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	if !a.profile.vision {
		return append(messages, chatMessage{Role: "user", Content: JoinText(parts)})
	}
	content := make([]contentPart, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case PartText:
			content = append(content, contentPart{Type: "text", Text: part.Data})
		case PartImage:
			if uri := ImageDataURI(part.Data); uri != "" {
				content = append(content, contentPart{Type: "image_url", ImageURL: &imageURL{URL: uri}})
			}
		}
	}
	return append(messages, chatMessage{Role: "user", Content: content})
}

func (a *compatAdapter) chat(ctx context.Context, cfg CallConfig, model, systemPrompt string, parts []Part, temperature float64, seed int64) (Result, error) {
	payload := map[string]any{
		"model":       model,
		"messages":    a.messages(systemPrompt, parts),
		"temperature": temperature,
	}
	if a.profile.sendSeed {
		payload["seed"] = seed
	}
	mergeExtra(payload, cfg.ExtraParams)

	var completion chatCompletionResponse
	err := a.http.doJSON(ctx, request{
		url:     a.endpoint.BaseURL + "/chat/completions",
		headers: bearer(cfg.Secret),
		body:    payload,
	}, &completion)
	if err != nil {
		return Result{}, err
	}
	if completion.Error != nil {
		return Result{}, &CallError{Reason: ReasonUnknown, Err: fmt.Errorf("api error: %s", strings.TrimSpace(completion.Error.Message))}
	}
	if len(completion.Choices) == 0 {
		return Result{}, &CallError{Reason: ReasonFormat, Err: errors.New("response contained no choices")}
	}
	message := completion.Choices[0].Message
	if message.Audio != nil && message.Audio.Data != "" {
		return Result{Kind: ResultAudio, Content: message.Audio.Data}, nil
	}
	text := extractContent(message.Content)
	if text == "" && message.Refusal != "" {
		return Result{}, &CallError{Reason: ReasonFormat, Err: fmt.Errorf("model refused: %s", message.Refusal)}
	}
	return Result{Kind: ResultText, Content: text}, nil
}

// extractContent accepts either a string or an array of text parts.
func extractContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, part := range parts {
			b.WriteString(part.Text)
		}
		return b.String()
	}
	return ""
}

type imageGenerationResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
	Error *apiError `json:"error"`
}

func (a *compatAdapter) generateImage(ctx context.Context, cfg CallConfig, model string, parts []Part) (Result, error) {
	payload := mergeExtra(map[string]any{
		"model":  model,
		"prompt": JoinText(parts),
	}, cfg.ExtraParams)

	var generated imageGenerationResponse
	err := a.http.doJSON(ctx, request{
		url:     a.endpoint.BaseURL + "/images/generations",
		headers: bearer(cfg.Secret),
		body:    payload,
	}, &generated)
	if err != nil {
		return Result{}, err
	}
	if generated.Error != nil {
		return Result{}, &CallError{Reason: ReasonUnknown, Err: fmt.Errorf("api error: %s", strings.TrimSpace(generated.Error.Message))}
	}
	if len(generated.Data) == 0 {
		return Result{}, &CallError{Reason: ReasonFormat, Err: errors.New("image response contained no data")}
	}
	first := generated.Data[0]
	if first.B64JSON != "" {
		return Result{Kind: ResultImage, Content: first.B64JSON}, nil
	}
	if first.URL == "" {
		return Result{}, &CallError{Reason: ReasonFormat, Err: errors.New("image response missing b64_json and url")}
	}
	raw, err := a.http.fetch(ctx, first.URL)
	if err != nil {
		return Result{}, fmt.Errorf("download generated image: %w", err)
	}
	return Result{Kind: ResultImage, Content: base64.StdEncoding.EncodeToString(raw)}, nil
}

func (a *compatAdapter) Validate(ctx context.Context, secret string) (Validation, error) {
	if a.endpoint.ValidateURL == "" {
		return Validation{}, fmt.Errorf("%s has no validation endpoint", a.profile.name)
	}
	return validateBearer(ctx, a.http, a.endpoint.ValidateURL, secret)
}

func (a *compatAdapter) validates() bool { return a.endpoint.ValidateURL != "" }

// validateBearer reports a key valid when GET url with Bearer auth returns 2xx.
func validateBearer(ctx context.Context, c *client, rawURL, secret string) (Validation, error) {
	_, err := c.sendOnce(ctx, request{method: http.MethodGet, url: rawURL, headers: bearer(secret)})
	return validationFromErr(err)
}

func validationFromErr(err error) (Validation, error) {
	if err == nil {
		return Validation{Valid: true, Message: "ok"}, nil
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return Validation{Valid: false, Message: fmt.Sprintf("status %d: %s", statusErr.StatusCode, summarize(statusErr.Body))}, nil
	}
	return Validation{}, err
}
