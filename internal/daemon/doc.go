// Package daemon coordinates the long-running mediarelay process.
//
// It wires the queue store, the relay worker, the retention sweeper, the
// optional discovery feed, and the HTTP API into a single lifecycle guarded by
// a flock-based single-instance lock. A worker that stops on a fatal error
// closes Done so the caller can exit non-zero.
//
// Keep orchestration logic here: job semantics belong to queue and worker,
// while the daemon focuses on startup, shutdown, and status reporting.
package daemon
