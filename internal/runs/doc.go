// Package runs accepts pipeline submissions, executes them synchronously or
// in the background, and retains their results for polling.
//
// Retention is always bounded: the memory store evicts finished runs older
// than the retention window and caps the number of entries; the redis store
// writes each run with a TTL and trims its sorted-set index.
package runs
