package logging

import "strings"

// formatSubject builds the run/step/key column shown in console output,
// e.g. "Run 1a2b3c4d · Step 2 · OpenAI key #7".
func formatSubject(runID, stepIndex, provider, keyID string) string {
	parts := make([]string, 0, 3)
	if runID = strings.TrimSpace(runID); runID != "" {
		if len(runID) > 8 {
			runID = runID[:8]
		}
		parts = append(parts, "Run "+runID)
	}
	if stepIndex = strings.TrimSpace(stepIndex); stepIndex != "" {
		parts = append(parts, "Step "+stepIndex)
	}
	provider = strings.TrimSpace(provider)
	keyID = strings.TrimSpace(keyID)
	switch {
	case provider != "" && keyID != "":
		parts = append(parts, provider+" key #"+keyID)
	case keyID != "":
		parts = append(parts, "Key #"+keyID)
	case provider != "":
		parts = append(parts, provider)
	}
	return strings.Join(parts, " · ")
}
