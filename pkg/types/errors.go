package types

import (
	"errors"
	"fmt"
	"time"
)

// Tagged error kinds returned to command handlers. All of them are local
// to the invoking command; none crash the reactor.
var (
	// ErrNotConnected is returned by any emit while the transport is down.
	ErrNotConnected = errors.New("not connected to server")

	// ErrInvalidSignature means a server or content signature failed
	// verification. Fatal for the current session.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrPowTimeout means no nonce was found within the mining ceiling.
	ErrPowTimeout = errors.New("proof of work timed out")

	// ErrRequestTimeout means the terminal event never arrived.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrInvalidArgument covers malformed domains, oversized files and
	// missing preconditions (not logged in, reputation too low,
	// self-report, duplicate report).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBusy means an invocation was rejected locally because the same
	// action type already has a pending context in flight.
	ErrBusy = errors.New("request already in flight")
)

// IntegrityError flags a downloaded blob whose hash does not match its
// request key. The caller still receives the bytes alongside this error.
type IntegrityError struct {
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("content integrity compromised: expected %s, got %s", e.Expected, e.Actual)
}

// BannedError is raised when the server answers a PoW request with a
// rate-limit ban.
type BannedError struct {
	Until  time.Time
	Reason string
}

func (e *BannedError) Error() string {
	remaining := time.Until(e.Until).Truncate(time.Second)
	return fmt.Sprintf("banned for %s: %s", remaining, e.Reason)
}

// ServerError surfaces an opaque server-side failure from a terminal event.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %s", e.Message)
}
