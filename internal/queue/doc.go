// Package queue persists relay jobs and implements the claim protocol that
// hands each job to exactly one worker at a time.
//
// A Store is backed by SQLite (the default, single host) or Postgres (shared
// between hosts). Both implement the same contract: idempotent Enqueue keyed
// by source ID, ClaimNext that selects the oldest eligible job and flips it to
// Processing inside one transaction, UpdateStatus that only succeeds for the
// claimant holding the current claim token, and Purge that removes processed
// jobs past the retention window.
//
// Claim eligibility is the explicit set {Queued, Processing, Errored}.
// Processing jobs only qualify once their heartbeat is older than the stale
// claim timeout, which recovers work from crashed workers without ever giving
// a live claim to a second worker. Errored jobs can be capped with
// MaxAttempts; zero retries forever.
//
// The database holds in-flight and recently finished work. Schema changes bump
// schemaVersion; operators clear the database to adopt a new schema.
package queue
