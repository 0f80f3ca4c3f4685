// Package notifications delivers operator alerts via ntfy.
//
// Alerts fire when a job reaches OtherError, when an Errored job has used up
// its claim attempts, and when the worker stops on a fatal error. Everything
// else is visible through logs and metrics. NewService returns a no-op
// implementation when no ntfy topic is configured, so callers never need to
// check for nil.
package notifications
