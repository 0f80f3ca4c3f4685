package preflight

import (
	"context"
	"strings"

	"mediarelay/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
	// Required marks checks whose failure prevents the daemon from starting.
	Required bool
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		required(CheckDirectoryAccess("Data directory", cfg.Paths.DataDir)),
		required(CheckDirectoryAccess("Log directory", cfg.Paths.LogDir)),
	}

	if strings.TrimSpace(cfg.Relay.BaseURL) != "" {
		results = append(results, CheckRelay(ctx, cfg.Relay.BaseURL, cfg.Relay.APIToken))
	}

	if cfg.Feed.Enabled {
		results = append(results, CheckAMQP(ctx, cfg.Feed.AMQPURL))
	}

	return results
}

func required(r Result) Result {
	r.Required = true
	return r
}

// Blocking returns the failed checks that are required.
func Blocking(results []Result) []Result {
	var blocking []Result
	for _, r := range Failed(results) {
		if r.Required {
			blocking = append(blocking, r)
		}
	}
	return blocking
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
