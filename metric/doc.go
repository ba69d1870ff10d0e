// Package metric provides Prometheus metrics for the fabula service: a
// registry holding the core collaboration and storage metrics, and an HTTP
// server exposing them for scraping.
//
// Core metrics cover session lifecycle (active sessions), the leasing
// protocol (acquisitions, conflicts, expiries), event broadcast volume by
// type, and reference index recomputation. Everything registers against a
// private Prometheus registry so tests can create registries freely without
// global collector collisions.
package metric
