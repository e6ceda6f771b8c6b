// Package refs resolves template reference tokens against a run's variables
// and the asset store.
//
// Two token forms are recognized. {name} is replaced with the run variable of
// that name; {record:ID} and {record:ID.field.path} are replaced with data from
// asset ID. Variables are substituted first, then records, each in one pass:
// text produced by a record substitution is never scanned again. Anything that
// cannot be resolved stays in the output verbatim and is logged as a warning.
package refs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"comfyforge/internal/assets"
	"comfyforge/internal/logging"
	"comfyforge/internal/services"
)

var (
	varPattern    = regexp.MustCompile(`\{(\w+)\}`)
	recordPattern = regexp.MustCompile(`\{record:(\d+)((?:\.\w+)*)\}`)
)

// Source reads records by id.
type Source interface {
	Get(ctx context.Context, id int64) (*assets.Asset, error)
}

// Lineage is the set of record ids consulted during one run. It is owned by a
// single run and not safe for concurrent use.
type Lineage struct {
	ids map[int64]struct{}
}

// NewLineage returns an empty lineage set.
func NewLineage() *Lineage {
	return &Lineage{ids: make(map[int64]struct{})}
}

// Add records id.
func (l *Lineage) Add(id int64) {
	l.ids[id] = struct{}{}
}

// Contains reports whether id was recorded.
func (l *Lineage) Contains(id int64) bool {
	_, ok := l.ids[id]
	return ok
}

// Len returns the number of distinct ids.
func (l *Lineage) Len() int {
	return len(l.ids)
}

// IDs returns the recorded ids in ascending order.
func (l *Lineage) IDs() []int64 {
	ids := make([]int64, 0, len(l.ids))
	for id := range l.ids {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Unresolved describes a token left in place.
type Unresolved struct {
	Token  string
	Reason string
}

// Resolver substitutes reference tokens.
type Resolver struct {
	source Source
	logger *slog.Logger
}

// NewResolver constructs a resolver reading records from source. A nil source
// leaves every record token unresolved.
func NewResolver(source Source, logger *slog.Logger) *Resolver {
	return &Resolver{source: source, logger: logging.NewComponentLogger(logger, "refs")}
}

// Resolve substitutes variables from vars, then record tokens, adding every
// referenced record id to lineage whether or not the lookup succeeds.
func (r *Resolver) Resolve(ctx context.Context, template string, vars map[string]string, lineage *Lineage) (string, []Unresolved) {
	if template == "" {
		return "", nil
	}
	var unresolved []Unresolved

	out := varPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := token[1 : len(token)-1]
		if value, ok := vars[name]; ok {
			return value
		}
		unresolved = append(unresolved, Unresolved{Token: token, Reason: "unknown variable"})
		return token
	})

	cache := map[int64]*assets.Asset{}
	out = recordPattern.ReplaceAllStringFunc(out, func(token string) string {
		match := recordPattern.FindStringSubmatch(token)
		id, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			unresolved = append(unresolved, Unresolved{Token: token, Reason: "invalid record id"})
			return token
		}
		if lineage != nil {
			lineage.Add(id)
		}
		asset, reason := r.fetch(ctx, id, cache)
		if asset == nil {
			unresolved = append(unresolved, Unresolved{Token: token, Reason: reason})
			return token
		}
		var path []string
		if match[2] != "" {
			path = strings.Split(strings.TrimPrefix(match[2], "."), ".")
		}
		rendered, ok := render(asset, path)
		if !ok {
			unresolved = append(unresolved, Unresolved{Token: token, Reason: "missing field path"})
			return token
		}
		return rendered
	})

	if len(unresolved) > 0 {
		logger := logging.WithContext(ctx, r.logger)
		for _, item := range unresolved {
			logging.WarnWithContext(logger, "reference unresolved", "reference_unresolved",
				logging.String("token", item.Token),
				logging.String("reason", item.Reason),
				logging.String(logging.FieldErrorHint, "token text kept as-is"),
				logging.String(logging.FieldErrorKind, "resolution"),
			)
		}
	}
	return out, unresolved
}

func (r *Resolver) fetch(ctx context.Context, id int64, cache map[int64]*assets.Asset) (*assets.Asset, string) {
	if asset, ok := cache[id]; ok {
		if asset == nil {
			return nil, "record not found"
		}
		return asset, ""
	}
	if r.source == nil {
		return nil, "no record source"
	}
	asset, err := r.source.Get(ctx, id)
	if err != nil || asset == nil {
		cache[id] = nil
		if err != nil && !errors.Is(err, services.ErrNotFound) {
			return nil, "record lookup failed: " + err.Error()
		}
		return nil, "record not found"
	}
	cache[id] = asset
	return asset, ""
}

// render formats a record or one of its fields. With no path it prefers the
// record's content field and falls back to the whole tree as JSON.
func render(asset *assets.Asset, path []string) (string, bool) {
	if len(path) == 0 {
		if content, ok := asset.Data["content"]; ok {
			return stringify(content), true
		}
		return stringify(asset.Data), true
	}
	value, ok := asset.Lookup(path)
	if !ok {
		return "", false
	}
	return stringify(value), true
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	default:
		return fmt.Sprint(v)
	}
}
