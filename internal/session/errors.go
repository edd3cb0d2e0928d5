package session

import (
	"fmt"
)

// Kind classifies session failures.
type Kind string

const (
	KindPermissionDenied Kind = "permission_denied"
	KindHandleCreation   Kind = "handle_creation_failed"
	KindTransportOpen    Kind = "transport_open_failed"
	KindTransportWrite   Kind = "transport_write_failed"
	KindTransportRead    Kind = "transport_read_failed"
	KindCancelled        Kind = "cancelled"
	KindNotConnected     Kind = "not_connected"
)

// Reason texts carried by ConnectionFailed events that do not come straight
// from a transport error.
const (
	ReasonPermissionDenied = "permission denied"
	ReasonHandleCreation   = "unable to create transport handle"
	ReasonCancelled        = "connection cancelled"
)

// Error is a session failure tied to a device. It is attached to failure
// events and returned by SendErr; it never escapes as a panic.
type Error struct {
	Kind     Kind
	DeviceID string
	Err      error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.DeviceID != "" {
		msg = fmt.Sprintf("%s %s", e.DeviceID, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying transport error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors, matched by Kind.
var (
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrHandleCreation   = &Error{Kind: KindHandleCreation}
	ErrTransportOpen    = &Error{Kind: KindTransportOpen}
	ErrTransportWrite   = &Error{Kind: KindTransportWrite}
	ErrTransportRead    = &Error{Kind: KindTransportRead}
	ErrCancelled        = &Error{Kind: KindCancelled}
	ErrNotConnected     = &Error{Kind: KindNotConnected}
)

func newError(kind Kind, deviceID string, err error) *Error {
	return &Error{Kind: kind, DeviceID: deviceID, Err: err}
}
