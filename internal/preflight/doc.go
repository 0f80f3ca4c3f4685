// Package preflight provides readiness checks for the directories and
// external services mediarelay depends on.
//
// The daemon runs RunAll before starting the worker. Directory checks are
// required and abort startup; service checks are logged as warnings. The CLI
// "queue health" command shows the same results. Checks for optional features
// are skipped when the feature is off.
package preflight
