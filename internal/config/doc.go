// Package config loads, normalizes, and validates livestreamdvr configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files with unknown keys rejected. The Config type
// centralizes the directories, external binaries, capture retry budget and
// notification settings the daemon and CLI need.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical container extensions, and clear validation errors.
package config
