// Package services defines shared helpers consumed by the worker, the relay
// client, and the ingest adapters.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, source IDs, components, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures carry a
//     consistent classification from the collaborator up to the worker.
//
// Use these helpers when wiring new components so error handling and
// observability stay uniform across the relay.
package services
