package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidHandler is returned when a nil handler is registered.
	ErrInvalidHandler = errors.New("stream: handler must not be nil")

	// ErrStopped is returned by Subscribe and Unsubscribe calls made after
	// Stop, or pending when Stop is called.
	ErrStopped = errors.New("stream: client stopped")

	// ErrAlreadyRunning is returned when Run is called while another Run is
	// active on the same client.
	ErrAlreadyRunning = errors.New("stream: already running")

	errMalformed = errors.New("malformed message")
)

// Server error codes.
const (
	CodeInvalidSyntax            = 400
	CodeNotAuthenticated         = 401
	CodeAuthFailed               = 402
	CodeAlreadyAuthenticated     = 403
	CodeAuthTimeout              = 404
	CodeSymbolLimitExceeded      = 405
	CodeConnectionLimitExceeded  = 406
	CodeSlowClient               = 407
	CodeInsufficientSubscription = 409
	CodeInternalError            = 500
)

// ProtocolError reports an unexpected or negative handshake acknowledgement.
// It ends Run without reconnecting.
type ProtocolError struct {
	Stage   string
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("stream: %s failed: %s (code %d)", e.Stage, e.Message, e.Code)
	}
	return fmt.Sprintf("stream: %s failed: %s", e.Stage, e.Message)
}

// EntitlementError reports that the account may not receive the requested
// data. It ends Run without reconnecting.
type EntitlementError struct {
	Code    int
	Message string
}

func (e *EntitlementError) Error() string {
	return fmt.Sprintf("stream: subscription rejected: %s (code %d)", e.Message, e.Code)
}

func isEntitlementCode(code int) bool {
	return code == CodeSymbolLimitExceeded || code == CodeInsufficientSubscription
}

// isFatal reports whether err must end Run instead of triggering a reconnect.
func isFatal(err error) bool {
	var pErr *ProtocolError
	var eErr *EntitlementError
	return errors.As(err, &pErr) || errors.As(err, &eErr)
}
