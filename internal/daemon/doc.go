// Package daemon coordinates the long-running comfyforge process.
//
// It wires configuration, the key registry, the asset store, the adapter
// table, the router, the pipeline executor, and the run service into a
// single lifecycle with flock-based locking to prevent multiple instances.
// The daemon owns the health monitor loop and the HTTP API listener.
//
// Build assembles the same components for one-shot CLI commands, so a
// pipeline run from the command line goes through exactly the routing and
// outcome recording the daemon uses.
//
// Keep orchestration logic here: routing, probing, and execution live in
// their respective packages while the daemon focuses on startup, shutdown,
// and high level coordination.
package daemon
