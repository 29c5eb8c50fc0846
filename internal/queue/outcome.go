package queue

import (
	"context"
	"errors"
)

// ErrFatal marks a handler error as non-retryable. Handlers wrap their
// error with it (fmt.Errorf("...: %w", queue.ErrFatal)) to send a message
// straight to the dead-letter stream regardless of remaining retry budget.
var ErrFatal = errors.New("fatal handler error")

// OutcomeKind enumerates the possible results of one handler dispatch.
type OutcomeKind int

const (
	// OutcomeSuccess means the handler completed without error.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeRetry means the handler failed and the message may be
	// re-enqueued if retry budget remains.
	OutcomeRetry

	// OutcomeFatal means the handler failed in a way retrying cannot fix.
	OutcomeFatal
)

// Outcome is the result of dispatching one message to its handler.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

// AsOutcome classifies a handler's return value. Context cancellation is
// not an outcome: it propagates through dispatch because it represents
// intentional shutdown, never a message failure.
func AsOutcome(err error) Outcome {
	switch {
	case err == nil:
		return Outcome{Kind: OutcomeSuccess}
	case errors.Is(err, ErrFatal):
		return Outcome{Kind: OutcomeFatal, Err: err}
	default:
		return Outcome{Kind: OutcomeRetry, Err: err}
	}
}

// IsCancellation reports whether a handler error represents cooperative
// shutdown rather than a failure.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Routing is the per-message action the worker takes after dispatch.
type Routing int

const (
	// RouteAck acknowledges the message and records success.
	RouteAck Routing = iota

	// RouteRetry re-enqueues the message with an incremented retry count,
	// then acknowledges the original.
	RouteRetry

	// RouteDeadLetter writes the message to the dead-letter stream, then
	// acknowledges the original so it does not remain pending forever.
	RouteDeadLetter
)

// Decide maps an outcome and the message's retry state to a routing action.
// The decision is a pure function: a failed message whose next retry count
// would exceed maxRetries is dead-lettered, otherwise re-enqueued. Fatal
// outcomes skip the retry budget entirely.
func Decide(outcome Outcome, retryCount, maxRetries int) Routing {
	switch outcome.Kind {
	case OutcomeSuccess:
		return RouteAck
	case OutcomeFatal:
		return RouteDeadLetter
	default:
		if retryCount+1 > maxRetries {
			return RouteDeadLetter
		}
		return RouteRetry
	}
}
