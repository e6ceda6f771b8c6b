package keys

import (
	"database/sql"
	"encoding/json"

	"comfyforge/internal/database"
)

const keyColumns = "id, provider, secret, description, is_active, priority, tags_json, quota_total, quota_remaining, quota_unit, price_per_call, billing_type, success_count, failure_count, avg_latency_ms, last_used_at, last_checked_at, created_at, expires_at, metadata_json"

func scanKey(scanner database.Scanner) (*Key, error) {
	var (
		key          Key
		active       int
		tagsJSON     string
		lastUsedRaw  sql.NullString
		lastCheckRaw sql.NullString
		createdRaw   string
		expiresRaw   sql.NullString
		metadataJSON string
	)
	if err := scanner.Scan(
		&key.ID,
		&key.Provider,
		&key.Secret,
		&key.Description,
		&active,
		&key.Priority,
		&tagsJSON,
		&key.QuotaTotal,
		&key.QuotaRemaining,
		&key.QuotaUnit,
		&key.PricePerCall,
		&key.BillingType,
		&key.SuccessCount,
		&key.FailureCount,
		&key.AvgLatencyMs,
		&lastUsedRaw,
		&lastCheckRaw,
		&createdRaw,
		&expiresRaw,
		&metadataJSON,
	); err != nil {
		return nil, err
	}
	key.Active = active != 0
	if err := json.Unmarshal([]byte(tagsJSON), &key.Tags); err != nil || key.Tags == nil {
		key.Tags = []string{}
	}
	if metadataJSON != "" && metadataJSON != "{}" {
		_ = json.Unmarshal([]byte(metadataJSON), &key.Metadata)
	}
	if created, err := database.ParseTime(createdRaw); err == nil {
		key.CreatedAt = created
	}
	key.LastUsedAt = database.ParseTimePtr(lastUsedRaw.String)
	key.LastCheckedAt = database.ParseTimePtr(lastCheckRaw.String)
	key.ExpiresAt = database.ParseTimePtr(expiresRaw.String)
	return &key, nil
}
