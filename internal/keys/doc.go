// Package keys persists provider credentials and their health, quota, and
// latency state in SQLite.
//
// A key moves between three states derived from its row: Healthy (active, no
// recent failures), Degraded (active, one or two failures), and Disabled
// (inactive). Failed calls and failed probes increment the failure counter and
// disable the key once it reaches DisableThreshold; any success resets it.
//
// Every mutation is a single UPDATE statement whose new values are computed
// from the row's current values inside SQLite, so concurrent outcomes for the
// same key never lose updates, even across processes sharing the database.
// Reads used for routing may be slightly stale.
package keys
