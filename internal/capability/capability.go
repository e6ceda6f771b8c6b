// Package capability classifies model names into generation capabilities.
//
// Classification is a keyword heuristic evaluated against an ordered rule
// table: video, then audio, then image generation unless a vision keyword is
// also present, then vision, defaulting to chat. The order decides which
// adapter call path runs, so the table is exported for inspection and tests.
package capability

import (
	"regexp"
	"strings"
)

// Capability identifies the call path an adapter uses for a model.
type Capability string

const (
	Chat     Capability = "chat"
	Vision   Capability = "vision"
	ImageGen Capability = "image_gen"
	VideoGen Capability = "video_gen"
	AudioGen Capability = "audio_gen"
	Unknown  Capability = "unknown"
)

// Rule maps a keyword set to a capability. A rule matches when any keyword
// is a substring of the lowercased model name and no Unless keyword is.
type Rule struct {
	Capability Capability
	Keywords   []string
	Unless     []string
}

var visionKeywords = []string{"vision", "vl", "visual"}

// Rules is evaluated top to bottom; the first match wins.
var Rules = []Rule{
	{Capability: VideoGen, Keywords: []string{"video", "sora", "cogvideo", "veo", "wan2", "t2v"}},
	{Capability: AudioGen, Keywords: []string{"audio", "speech", "tts", "whisper", "cosyvoice"}},
	{
		Capability: ImageGen,
		Keywords:   []string{"image", "imagen", "wanx", "dall-e", "flux", "paint", "draw", "art", "gen", "style"},
		Unless:     visionKeywords,
	},
	{Capability: Vision, Keywords: visionKeywords},
}

// Classify returns the capability for model. Blank names are Unknown.
func Classify(model string) Capability {
	name := strings.ToLower(strings.TrimSpace(model))
	if name == "" {
		return Unknown
	}
	for _, rule := range Rules {
		if containsAny(name, rule.Keywords) && !containsAny(name, rule.Unless) {
			return rule.Capability
		}
	}
	return Chat
}

func containsAny(name string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

var tags = map[Capability]string{
	Chat:     "[CHAT]",
	Vision:   "[VISION]",
	ImageGen: "[IMAGE]",
	VideoGen: "[VIDEO]",
	AudioGen: "[AUDIO]",
	Unknown:  "[UNKNOWN]",
}

// Tag returns the UI tag for c, e.g. "[IMAGE]".
func (c Capability) Tag() string {
	if tag, ok := tags[c]; ok {
		return tag
	}
	return tags[Unknown]
}

// Label prefixes model with its capability tag: "[CHAT] gpt-4o".
func Label(model string) string {
	return Classify(model).Tag() + " " + model
}

var labelPattern = regexp.MustCompile(`^\[\w+\]\s*`)

// StripLabel removes a leading capability tag so labelled names can be sent
// to providers unchanged.
func StripLabel(model string) string {
	return labelPattern.ReplaceAllString(model, "")
}

// Parse maps a capability string back to its constant.
func Parse(value string) Capability {
	switch Capability(strings.ToLower(strings.TrimSpace(value))) {
	case Chat:
		return Chat
	case Vision:
		return Vision
	case ImageGen:
		return ImageGen
	case VideoGen:
		return VideoGen
	case AudioGen:
		return AudioGen
	default:
		return Unknown
	}
}
