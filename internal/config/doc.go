// Package config loads, normalizes, and validates mediarelay configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and applies environment overrides such as
// MEDIARELAY_RELAY_BASE_URL or the DATABASE_* variables understood by older
// deployments. The Config type centralizes every knob the daemon and CLI need
// so the queue store, worker, and relay client are configured in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
