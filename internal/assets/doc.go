// Package assets persists generated and user-supplied records in SQLite.
//
// The pipeline reads records through Get during {record:ID} resolution and,
// when output persistence is enabled, writes completed outputs back through
// Create with the run's lineage as SourceIDs.
package assets
