// Package worker runs the relay loop: claim the oldest eligible job, hand it
// to the relay processor, record the outcome, repeat.
//
// One Manager runs one logical worker. Several processes may point Managers at
// the same store; the queue's conditional updates keep their claims disjoint.
// A heartbeat goroutine refreshes the claim while a job is being delegated so
// other workers do not treat it as abandoned.
package worker
