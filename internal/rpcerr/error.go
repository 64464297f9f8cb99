// Package rpcerr defines the sum-typed error taxonomy shared by the
// subprocess client and the ACP adapter (see spec DESIGN NOTES §9:
// "Exceptions → sum-typed results").
package rpcerr

import "fmt"

// Kind enumerates the error variants an adapter or subprocess client can
// report. It is a closed set by design.
type Kind int

const (
	// SpawnFailure means the agent binary could not be started (missing,
	// no permission).
	SpawnFailure Kind = iota
	// AlreadyRunning means Start was called on an already-running client.
	AlreadyRunning
	// NotRunning means a request was sent after the child exited or before
	// it was started.
	NotRunning
	// ProtocolFailure means a malformed frame or a handshake missing a
	// required field (protocolVersion, sessionId).
	ProtocolFailure
	// Timeout means no response arrived within the configured deadline.
	Timeout
	// InvalidResponse means a response arrived but its shape didn't match
	// what the caller expected.
	InvalidResponse
	// Shutdown means the pending request was drained by Stop().
	Shutdown
	// Application wraps a JSON-RPC application error code returned by the
	// remote peer (e.g. -32001..-32099).
	Application
)

func (k Kind) String() string {
	switch k {
	case SpawnFailure:
		return "spawn_failure"
	case AlreadyRunning:
		return "already_running"
	case NotRunning:
		return "not_running"
	case ProtocolFailure:
		return "protocol_failure"
	case Timeout:
		return "timeout"
	case InvalidResponse:
		return "invalid_response"
	case Shutdown:
		return "shutdown"
	case Application:
		return "application"
	default:
		return "unknown"
	}
}

// Error is the single error type every "fails with ..." condition in the
// spec's component design is modeled as.
type Error struct {
	Kind Kind
	// Code is populated for Kind == Application; it carries the JSON-RPC
	// application error code (-32000..-32099).
	Code int
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == Application {
		return fmt.Sprintf("%s (code %d): %s", e.Kind, e.Code, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// NewApplication builds an Application-kind Error carrying a JSON-RPC
// application error code.
func NewApplication(code int, msg string) *Error {
	return &Error{Kind: Application, Code: code, Msg: msg}
}

// Is reports whether err is an *Error of the given kind, so callers can
// write `errors.Is`-style checks without exposing the Kind field directly.
func Is(err error, kind Kind) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Kind == kind
}
