package session

import "errors"

// Local rejection conditions. These represent expected user-input situations,
// are surfaced as status text only, and are never written to the diagnostic
// sink.
var (
	// ErrBusy rejects an operation while another one is still in flight.
	ErrBusy = errors.New("another operation is in progress")

	// ErrNotFound reports an unresolved attribute key or device.
	ErrNotFound = errors.New("not found")

	// ErrNotConnected rejects connection-scoped operations while disconnected.
	ErrNotConnected = errors.New("no active connection")

	// ErrCapabilityMismatch rejects an operation the characteristic's
	// capability set does not allow.
	ErrCapabilityMismatch = errors.New("operation not supported by this characteristic")
)

// OpError wraps a transport failure that was caught at the coordinator
// boundary. Summary is the user-facing remediation message; the raw detail
// has already been written to the diagnostic sink.
type OpError struct {
	Op      string
	Summary string
	Err     error
}

func (e *OpError) Error() string { return e.Summary }

func (e *OpError) Unwrap() error { return e.Err }
