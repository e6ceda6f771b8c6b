// Package database opens SQLite databases for the key registry and asset
// store and provides the shared write helpers both rely on.
//
// Every database is opened in WAL mode with a busy timeout, and writes go
// through ExecWithRetry so transient SQLITE_BUSY errors from concurrent
// writers (other goroutines or other processes sharing the file) are retried
// with a bounded backoff. Each schema is versioned in its own table and a
// mismatch is reported as ErrSchemaMismatch rather than migrated implicitly.
package database
