// Package config loads, normalizes, and validates ps3-worker configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads an optional .env file, and honours the
// environment variables the rest of the platform already exports (AMQP_*,
// MONGO_*, MINIO_*, provider API keys). The Config type centralizes every knob
// the daemon and CLI need so broker, task store, artifact store, and LLM
// credentials are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
