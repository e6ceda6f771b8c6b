package assets

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"comfyforge/internal/database"
	"comfyforge/internal/services"
)

const assetColumns = "id, type, name, description, tags_json, data_json, source_ids_json, project_id, version, created_at, updated_at"

// Store manages asset persistence backed by SQLite.
type Store struct {
	db  *database.DB
	now func() time.Time
}

// Open initializes or connects to the asset database at path.
func Open(path string) (*Store, error) {
	db, err := database.Open(path, schema)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the asset with id. A missing asset is services.ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*Asset, error) {
	ctx = database.EnsureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+assetColumns+" FROM assets WHERE id = ?", id)
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "assets", "get", fmt.Sprintf("asset %d", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get asset %d: %w", id, err)
	}
	return asset, nil
}

// Create inserts a new asset.
func (s *Store) Create(ctx context.Context, input NewAsset) (*Asset, error) {
	assetType := strings.TrimSpace(input.Type)
	if assetType == "" {
		return nil, services.Wrap(services.ErrValidation, "assets", "create", "type is required", nil)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, services.Wrap(services.ErrValidation, "assets", "create", "name is required", nil)
	}
	data := input.Data
	if data == nil {
		data = map[string]any{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}
	tagsJSON, err := json.Marshal(cleanTags(input.Tags))
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	sources := input.SourceIDs
	if sources == nil {
		sources = []int64{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return nil, fmt.Errorf("encode source ids: %w", err)
	}
	var project any
	if input.ProjectID != nil {
		project = *input.ProjectID
	}

	now := database.FormatTime(s.now())
	res, err := s.db.ExecWithRetry(ctx,
		`INSERT INTO assets (
            type, name, description, tags_json, data_json, source_ids_json, project_id, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		assetType,
		name,
		strings.TrimSpace(input.Description),
		string(tagsJSON),
		string(dataJSON),
		string(sourcesJSON),
		project,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert asset: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("fetch asset id: %w", err)
	}
	return s.Get(ctx, id)
}

// List returns assets ordered by id, optionally filtered by type.
func (s *Store) List(ctx context.Context, assetType string) ([]*Asset, error) {
	ctx = database.EnsureContext(ctx)
	query := "SELECT " + assetColumns + " FROM assets"
	var args []any
	if assetType = strings.TrimSpace(assetType); assetType != "" {
		query += " WHERE type = ?"
		args = append(args, assetType)
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}
	return assets, nil
}

func scanAsset(scanner database.Scanner) (*Asset, error) {
	var (
		asset       Asset
		tagsJSON    string
		dataJSON    string
		sourcesJSON string
		project     sql.NullInt64
		createdRaw  string
		updatedRaw  string
	)
	if err := scanner.Scan(
		&asset.ID,
		&asset.Type,
		&asset.Name,
		&asset.Description,
		&tagsJSON,
		&dataJSON,
		&sourcesJSON,
		&project,
		&asset.Version,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &asset.Tags); err != nil || asset.Tags == nil {
		asset.Tags = []string{}
	}
	if err := json.Unmarshal([]byte(dataJSON), &asset.Data); err != nil || asset.Data == nil {
		asset.Data = map[string]any{}
	}
	_ = json.Unmarshal([]byte(sourcesJSON), &asset.SourceIDs)
	if project.Valid {
		id := project.Int64
		asset.ProjectID = &id
	}
	if created, err := database.ParseTime(createdRaw); err == nil {
		asset.CreatedAt = created
	}
	if updated, err := database.ParseTime(updatedRaw); err == nil {
		asset.UpdatedAt = updated
	}
	return &asset, nil
}
