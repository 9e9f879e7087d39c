package cast

import (
	"errors"
	"fmt"
)

// ErrChannelClosed is delivered (possibly wrapping the teardown cause) to
// every pending waiter when the channel is torn down, and returned by
// send_request when a lazy reconnect is refused by the reconnect rate limit.
var ErrChannelClosed = errors.New("cast: channel closed")

// ErrRequestTimeout is returned when a waiter's deadline elapses before a
// matching response arrives.
var ErrRequestTimeout = errors.New("cast: request timed out")

// ErrNoOp is returned by Connect/Close when the call was a no-op because the
// channel was already in the target state.
var ErrNoOp = errors.New("cast: no-op")

// ConfigError is raised at construction time for a blank host or remote
// name. A blank sender id is not rejected: NewChannel replaces it with a
// generated "sender-<uuid>" id.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("cast: config error: %s must not be blank", e.Field)
}

// AuthError is raised when the device auth handshake response carries an
// error field.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("cast: authentication failed: %s", e.Reason)
}

// ProtocolError is raised for truncated frames or undecodable envelopes.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("cast: protocol error: %s", e.Reason)
}

// DecodeError is raised when a reply's JSON does not match the expected
// response kind.
type DecodeError struct {
	Kind string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cast: failed to decode %s response: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// BadRequestError is raised when the receiver replies INVALID_REQUEST.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("cast: invalid request: %s", e.Reason)
}

// LaunchError is raised when the receiver replies LAUNCH_ERROR.
type LaunchError struct {
	Reason string
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("cast: application launch error: %s", e.Reason)
}

// ErrMediaLoadFailed is raised when the receiver replies LOAD_FAILED.
var ErrMediaLoadFailed = errors.New("cast: unable to load media")

// InternalError marks conditions that indicate a bug in the registry/id
// invariants and should be unreachable in correct operation.
type InternalError struct {
	Reason string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("cast: internal error: %s", e.Reason)
}
