// Package config loads service configuration from a YAML file with
// environment variable overrides.
//
// Resolution order is defaults, then file, then environment. Environment
// variables use the FABULA_ prefix (FABULA_NATS_URL, FABULA_STORAGE_DRIVER
// and so on), so container deployments can run without a config file at
// all.
package config
