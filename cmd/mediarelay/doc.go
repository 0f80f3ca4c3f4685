// Command mediarelay runs the relay daemon and manages its job queue.
//
// Queue subcommands open the configured store directly, so they work whether
// or not a daemon is running. Both store backends tolerate concurrent access
// from the CLI and a running daemon.
package main
