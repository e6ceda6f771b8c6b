// Package api serves the comfyforge HTTP interface: pipeline submission, run
// polling, and key management.
//
// # Routes
//
//	POST /api/pipelines           submit {pipeline, key_overrides, sync}
//	GET  /api/runs                recent runs, newest first (?limit=)
//	GET  /api/runs/{id}           one run record
//	GET  /api/keys                list keys (?provider=, ?active=)
//	POST /api/keys                register a key
//	PUT  /api/keys/{id}           patch descriptive fields
//	POST /api/keys/{id}/check     run one validation probe now
//	POST /api/keys/{id}/enable    reactivate and clear failures
//	POST /api/keys/{id}/disable   remove from routing
//	GET  /api/providers           built-in adapters
//	GET  /metrics                 Prometheus exposition, when enabled
//	GET  /healthz                 liveness, never authenticated
//
// # Design Notes
//
// Payloads use snake_case JSON to match the pipeline definition format.
// Secrets are never echoed; key views carry a masked form. Error responses
// are {"error", "kind"} where kind is the services classification, and the
// HTTP status is derived from that classification.
//
// A synchronous submission answers 200 with the finished record even when
// the run failed; the failure is in the record, not the status code.
// Asynchronous submissions answer 202 with a pending record.
package api
