// Package broadcast implements the fan-out engine: it delivers one captured
// message to every recorded recipient, classifies per-recipient failures,
// publishes live progress and honors cooperative cancellation.
package broadcast

import "strings"

// Outcome is the delivery classification of a single recipient.
type Outcome int

const (
	OutcomeSuccessful Outcome = iota
	OutcomeBlocked
	OutcomeDeletedAccount
	OutcomeUnsuccessful
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccessful:
		return "successful"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeDeletedAccount:
		return "deleted"
	default:
		return "unsuccessful"
	}
}

// Classify maps a delivery failure description to an outcome. The input is
// deliberately an opaque string: the platform boundary is the only source
// of error detail, and structured platform error types must not cross into
// the engine.
//
// First match wins: "blocked" beats "deleted"/"not found", everything else
// is unsuccessful (rate limits, malformed content, network errors).
func Classify(description string) Outcome {
	d := strings.ToLower(description)
	switch {
	case strings.Contains(d, "blocked"):
		return OutcomeBlocked
	case strings.Contains(d, "deleted") || strings.Contains(d, "not found"):
		return OutcomeDeletedAccount
	default:
		return OutcomeUnsuccessful
	}
}
