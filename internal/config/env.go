package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// applyEnv overlays environment variables onto the decoded file values.
// Unset variables leave the current value untouched.
func (c *Config) applyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse environment overrides: %w", err)
	}
	return nil
}
