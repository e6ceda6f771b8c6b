package assets

import (
	"strings"
	"time"
)

// Asset is a stored record with a nested data tree.
type Asset struct {
	ID          int64          `json:"id"`
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Tags        []string       `json:"tags"`
	Data        map[string]any `json:"data"`
	SourceIDs   []int64        `json:"source_asset_ids,omitempty"`
	ProjectID   *int64         `json:"project_id,omitempty"`
	Version     int            `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Lookup walks a dotted field path through the data tree. An empty path
// returns the whole tree.
func (a *Asset) Lookup(path []string) (any, bool) {
	if a == nil {
		return nil, false
	}
	var current any = a.Data
	for _, segment := range path {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// NewAsset describes a record to insert.
type NewAsset struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Tags        []string       `json:"tags"`
	Data        map[string]any `json:"data"`
	SourceIDs   []int64        `json:"source_asset_ids"`
	ProjectID   *int64         `json:"project_id"`
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
