package keys

import (
	"context"
	"time"

	"comfyforge/internal/database"
	"comfyforge/internal/services"
)

const emaWeight = 0.1

// RecordOutcome applies one invocation outcome to its key atomically and
// returns the updated row.
//
// Success increments success_count, clears failure_count, folds latency into
// the moving average, and subtracts QuotaConsumed. Failure increments
// failure_count and deactivates the key at DisableThreshold. Both stamp
// last_used_at.
func (s *Store) RecordOutcome(ctx context.Context, outcome Outcome) (*Key, error) {
	if outcome.QuotaConsumed < 0 {
		return nil, services.Wrap(services.ErrValidation, "keys", "record outcome", "quota consumed must be zero or positive", nil)
	}
	now := database.FormatTime(s.now())
	if outcome.Success {
		latency := outcome.LatencyMs
		if latency < 0 {
			latency = 0
		}
		return s.updateReturning(ctx, "record outcome",
			`UPDATE api_keys SET
                success_count = success_count + 1,
                failure_count = 0,
                avg_latency_ms = CASE WHEN avg_latency_ms = 0 THEN ? ELSE (1 - ?) * avg_latency_ms + ? * ? END,
                quota_remaining = quota_remaining - ?,
                last_used_at = ?
            WHERE id = ?`,
			latency, emaWeight, emaWeight, latency,
			outcome.QuotaConsumed,
			now,
			outcome.KeyID,
		)
	}
	return s.updateReturning(ctx, "record outcome",
		`UPDATE api_keys SET
            failure_count = failure_count + 1,
            is_active = CASE WHEN failure_count + 1 >= ? THEN 0 ELSE is_active END,
            last_used_at = ?
        WHERE id = ?`,
		DisableThreshold, now, outcome.KeyID,
	)
}

// ApplyProbe applies one health probe result to its key atomically and
// returns the updated row. last_checked_at is stamped on both success and
// failure.
func (s *Store) ApplyProbe(ctx context.Context, id int64, result ProbeResult) (*Key, error) {
	now := database.FormatTime(s.now())
	if result.Valid {
		var quota any
		if result.QuotaRemaining != nil {
			quota = *result.QuotaRemaining
		}
		return s.updateReturning(ctx, "apply probe",
			`UPDATE api_keys SET
                failure_count = 0,
                quota_remaining = COALESCE(?, quota_remaining),
                is_active = CASE WHEN ? = 1 THEN 1 ELSE is_active END,
                last_checked_at = ?
            WHERE id = ?`,
			quota, database.BoolToInt(result.Reactivate), now, id,
		)
	}
	return s.updateReturning(ctx, "apply probe",
		`UPDATE api_keys SET
            failure_count = failure_count + 1,
            is_active = CASE WHEN failure_count + 1 >= ? THEN 0 ELSE is_active END,
            last_checked_at = ?
        WHERE id = ?`,
		DisableThreshold, now, id,
	)
}

// Now returns the store's clock reading.
func (s *Store) Now() time.Time {
	return s.now()
}
