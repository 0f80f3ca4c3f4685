// Package api defines the wire-format types for the HTTP API and the chi
// router that serves them. Converters translate queue and worker models into
// DTOs so CLI and HTTP consumers never depend on internal structs.
//
// DTOs use camelCase JSON tags. Job statuses are exposed as lowercase names
// (queued, processing, errored, processed, deleted_from_source, other_error).
// Timestamps use RFC3339 with milliseconds.
package api
