package runs

import (
	"time"

	"comfyforge/internal/pipeline"
)

// Record is the pollable state of one submitted run.
type Record struct {
	ID          string           `json:"run_id"`
	Name        string           `json:"name,omitempty"`
	Status      pipeline.Status  `json:"status"`
	Result      *pipeline.Result `json:"result,omitempty"`
	AssetIDs    map[string]int64 `json:"asset_ids,omitempty"`
	SubmittedAt time.Time        `json:"submitted_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (r *Record) clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}
