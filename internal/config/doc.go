// Package config loads, normalizes, and validates comfyforge configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the COMFYFORGE_API_TOKEN
// environment fallback. The Config type centralizes every knob the daemon and
// CLI need: data directories, the API bind address, router defaults, health
// monitor cadence, run retention, and per-provider endpoint overrides.
//
// Provider secrets are never read from configuration; they live in the key
// registry. Always obtain settings through this package so downstream code
// receives sanitized paths, canonical enum values, and clear validation errors.
package config
