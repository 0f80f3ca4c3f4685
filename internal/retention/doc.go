// Package retention purges processed jobs older than the configured window
// and prunes expired daemon log files. Sweeps on one host are serialized with
// a file lock so several daemons sharing a data directory do not race.
package retention
