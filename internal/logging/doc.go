// Package logging assembles the slog loggers used across comfyforge.
//
// Console output puts the component and a run/step/key subject in the line
// header ("[pipeline] Run 1a2b3c4d · Step 1 · OpenAI key #7 - step completed")
// so a run can be followed by eye; JSON output keeps the same fields as
// plain keys. Attributes carrying credentials (secret, api_key, token,
// authorization, key_overrides) are masked by both handlers.
//
// WithContext stamps run IDs, step indexes, providers, key IDs, and
// correlation IDs from the services context helpers. WarnWithContext and
// ErrorWithContext enforce event_type and error_hint fields.
package logging
