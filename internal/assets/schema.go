package assets

import (
	_ "embed"

	"comfyforge/internal/database"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

var schema = database.Schema{Name: "assets", SQL: schemaSQL, Version: schemaVersion}
