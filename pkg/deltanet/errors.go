package deltanet

import (
	"errors"
	"fmt"

	"github.com/vango-dev/deltanet/pkg/protocol"
)

// Sentinel errors for server operations.
var (
	// ErrDisposed is returned by operations on a disposed server.
	ErrDisposed = errors.New("deltanet: server disposed")

	// ErrUnknownConnection is returned when a connection id is not tracked.
	ErrUnknownConnection = errors.New("deltanet: unknown connection")

	// ErrNoIndex is returned when a tracked connection does not occupy an index
	// (an observer, or a participant that has not been through a tick yet).
	ErrNoIndex = errors.New("deltanet: connection has no index")
)

// ErrorKind classifies errors that end a connection.
type ErrorKind int

const (
	KindUnspecified ErrorKind = iota
	KindProtocol
	KindAuthentication
	KindDuplicateAuthentication
	KindObserverViolation
	KindValidation
	KindCallbackCrash
	KindDisconnected
	KindShutdown
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindAuthentication:
		return "authentication"
	case KindDuplicateAuthentication:
		return "duplicate_authentication"
	case KindObserverViolation:
		return "observer_violation"
	case KindValidation:
		return "validation"
	case KindCallbackCrash:
		return "callback_crash"
	case KindDisconnected:
		return "disconnected"
	case KindShutdown:
		return "shutdown"
	default:
		return "unspecified"
	}
}

// Error is a typed error that is reported to the client as an error message
// before its connection is closed. Callbacks may return one to control the
// error type and retryable flag the client sees.
type Error struct {
	Kind      ErrorKind
	Type      protocol.ErrorType
	Message   string
	Retryable bool
	Err       error
}

// NewError creates a non-retryable Error with the given wire type.
func NewError(errorType protocol.ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// NewRetryableError creates a retryable Error with the given wire type.
func NewRetryableError(errorType protocol.ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message, Retryable: true}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deltanet: %s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("deltanet: %s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// wire converts the error into its protocol message.
func (e *Error) wire() *protocol.ErrorMessage {
	return &protocol.ErrorMessage{
		ErrorType: e.Type,
		Message:   e.Message,
		Retryable: e.Retryable,
	}
}

func newProtocolError(errorType protocol.ErrorType, message string, err error) *Error {
	return &Error{Kind: KindProtocol, Type: errorType, Message: message, Err: err}
}

func newStateTooLargeError(stateID uint32, size, limit int) *Error {
	return &Error{
		Kind:    KindProtocol,
		Type:    protocol.ErrorStateValueTooLarge,
		Message: fmt.Sprintf("state %d value is %d bytes, exceeding the maximum of %d bytes", stateID, size, limit),
	}
}

func newCallbackCrash(callback string, recovered any) *Error {
	return &Error{
		Kind:    KindCallbackCrash,
		Type:    protocol.ErrorInternal,
		Message: fmt.Sprintf("%s callback failed", callback),
		Err:     fmt.Errorf("panic: %v", recovered),
	}
}

// normalizeError turns any callback error into an *Error of the given kind.
// Typed errors keep their wire type and retryable flag; anything else becomes
// a non-retryable error of defaultType.
func normalizeError(err error, kind ErrorKind, defaultType protocol.ErrorType) *Error {
	var de *Error
	if errors.As(err, &de) {
		out := *de
		if out.Kind == KindUnspecified {
			out.Kind = kind
		}
		if out.Type == "" {
			out.Type = defaultType
		}
		return &out
	}
	return &Error{Kind: kind, Type: defaultType, Message: err.Error(), Err: err}
}
