package relay

import (
	"context"
	"fmt"
	"strings"
)

// Outcome is the typed result of delegating one source item.
type Outcome int

const (
	// OutcomeProcessed means the item reached the sink; Result.DestinationID is set.
	OutcomeProcessed Outcome = iota + 1
	// OutcomeDeletedFromSource means the item no longer exists upstream.
	OutcomeDeletedFromSource
	// OutcomeOtherError is a permanent failure that retrying will not fix.
	OutcomeOtherError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeDeletedFromSource:
		return "deleted_from_source"
	case OutcomeOtherError:
		return "other_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ParseOutcome maps the relay service's status vocabulary onto an Outcome.
func ParseOutcome(value string) (Outcome, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "processed", "ok", "relayed":
		return OutcomeProcessed, true
	case "deleted", "deleted_from_source", "gone":
		return OutcomeDeletedFromSource, true
	case "unsupported", "other_error", "rejected":
		return OutcomeOtherError, true
	default:
		return 0, false
	}
}

// Result is what a Processor reports for a successfully handled item.
type Result struct {
	Outcome       Outcome
	DestinationID *int64
	// Message is an optional detail recorded with non-processed outcomes.
	Message string
}

// Processed builds a Processed result for destinationID.
func Processed(destinationID int64) Result {
	return Result{Outcome: OutcomeProcessed, DestinationID: &destinationID}
}

// Processor delivers one source item to the sink.
type Processor interface {
	Process(ctx context.Context, sourceID int64) (Result, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, sourceID int64) (Result, error)

func (f ProcessorFunc) Process(ctx context.Context, sourceID int64) (Result, error) {
	return f(ctx, sourceID)
}
