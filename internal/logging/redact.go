package logging

import (
	"log/slog"
	"strings"
)

// Attribute keys whose values are provider credentials or bearer tokens.
var sensitiveKeys = map[string]struct{}{
	"secret":        {},
	"api_key":       {},
	"api_token":     {},
	"token":         {},
	"authorization": {},
	"key_overrides": {},
}

func isSensitiveKey(key string) bool {
	if idx := strings.LastIndexByte(key, '.'); idx >= 0 {
		key = key[idx+1:]
	}
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}

// redactValue keeps the last four characters of long string secrets so an
// operator can still tell keys apart.
func redactValue(v slog.Value) string {
	v = v.Resolve()
	if v.Kind() != slog.KindString {
		return "[redacted]"
	}
	s := strings.TrimSpace(v.String())
	if len(s) <= 8 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
