package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"comfyforge/internal/keys"
)

func renderKeysTable(out io.Writer, list []*keys.Key) string {
	headers := []string{"ID", "Provider", "Key", "State", "Priority", "Quota", "Success", "Latency", "Last Checked", "Tags"}
	aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft, alignLeft}
	rows := make([][]string, 0, len(list))
	for _, key := range list {
		rows = append(rows, []string{
			fmt.Sprintf("%d", key.ID),
			key.Provider,
			key.MaskedSecret(),
			colorState(out, string(key.State())),
			fmt.Sprintf("%d", key.Priority),
			fmt.Sprintf("%d/%d", key.QuotaRemaining, key.QuotaTotal),
			formatRate(key),
			formatLatency(key.AvgLatencyMs),
			formatWhen(key.LastCheckedAt),
			strings.Join(key.Tags, ","),
		})
	}
	return renderTable(headers, rows, aligns) + "\n"
}

func formatRate(key *keys.Key) string {
	if key.SuccessCount+key.FailureCount == 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", key.SuccessRate()*100)
}

func formatLatency(ms float64) string {
	if ms <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.0fms", ms)
}

func formatWhen(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}
