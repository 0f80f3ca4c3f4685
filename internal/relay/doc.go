// Package relay defines the delivery collaborator the worker hands claimed
// jobs to, plus an HTTP implementation that talks to the relay service.
//
// A Processor receives a source item ID and reports a typed Outcome. Errors
// returned from Process are treated as transient; the worker records them as
// Errored so the job is claimed again later.
package relay
