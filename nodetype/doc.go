// Package nodetype defines the closed set of flow node kinds and their typed
// payloads, and provides the registry that dispatches default construction,
// strict schema validation, and variable-bearing field extraction per kind.
//
// The schema is intentionally strict: unknown payload fields fail validation
// instead of being dropped, so malformed client saves surface immediately
// rather than silently losing data.
package nodetype
