package bus

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers must be able to tell "the store rejected the
// enqueue" (BusError), "nobody answered in time" (ErrReplyTimeout) and
// "the remote handler failed" (a failure Response) apart.

// Error type strings carried on the wire in ErrorDetail.Type.
const (
	ErrorTypeHandler     = "handler_error"
	ErrorTypeUnsupported = "unsupported_action"
	ErrorTypeTimeout     = "timeout"
	ErrorTypeBus         = "bus_error"
)

// ErrReplyTimeout is returned when a pseudo-sync wait exceeds its deadline.
// Distinct from a handler-reported failure so callers can map it to
// "service unavailable" rather than "bad request".
var ErrReplyTimeout = errors.New("reply timeout")

// ErrNoHandler marks dispatch of an action type with no registered handler.
var ErrNoHandler = errors.New("no handler registered")

// BusError wraps a failed store operation; always raised to the caller,
// never retried inside the bus.
type BusError struct {
	Op    string
	Queue string
	Err   error
}

func (e *BusError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("bus %s %s: %v", e.Op, e.Queue, e.Err)
}

func (e *BusError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func busErr(op, queue string, err error) error {
	return &BusError{Op: op, Queue: queue, Err: err}
}

// Classify maps a handler-side error into the wire error detail.
func Classify(err error) ErrorDetail {
	switch {
	case err == nil:
		return ErrorDetail{}
	case errors.Is(err, ErrNoHandler):
		return ErrorDetail{Type: ErrorTypeUnsupported, Message: err.Error()}
	case errors.Is(err, ErrReplyTimeout):
		return ErrorDetail{Type: ErrorTypeTimeout, Message: err.Error()}
	default:
		var be *BusError
		if errors.As(err, &be) {
			return ErrorDetail{Type: ErrorTypeBus, Message: err.Error()}
		}
		return ErrorDetail{Type: ErrorTypeHandler, Message: err.Error()}
	}
}
