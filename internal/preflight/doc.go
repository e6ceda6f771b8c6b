// Package preflight provides readiness checks for filesystem paths and
// services that comfyforge depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll before opening its stores. Any failed check
//     aborts startup so a misconfigured data directory or unreachable run
//     store surfaces immediately.
//   - The CLI "comfyforge status" command prints the same results alongside
//     daemon reachability and key health.
//
// Each check is gated by its config toggle; unused backends are skipped.
package preflight
