// Package config loads, normalizes, and validates Fairsync configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// FAIRSYNC_BACKEND_TOKEN. The Config type centralizes every knob the daemon
// and CLI need: data and log directories, backend endpoints, sync retry
// bounds, and probe cadence.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
