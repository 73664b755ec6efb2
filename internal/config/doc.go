// Package config handles configuration loading, parsing, and validation
// from environment variables (prefix OPENVOICE_) and an optional YAML file.
// It provides type-safe access to the settings of the gateway, the job
// store, the queue, the worker pool, retention and artifact storage.
package config
