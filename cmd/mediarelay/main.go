package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"mediarelay/internal/services"
)

func main() {
	err := newRootCommand().Execute()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps a command error to the process status: 2 for bad input, 1 for
// everything else.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, services.ErrValidation):
		return 2
	default:
		return 1
	}
}
