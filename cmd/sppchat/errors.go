package main

import (
	"errors"
	"os"
	"strings"

	"github.com/srg/sppchat/internal/session"
	"github.com/srg/sppchat/internal/transport"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link dropped while a command was using it.
	ErrConnectionLost = errors.New("connection lost")

	// ErrConnectTimeout indicates no connection was established within --wait.
	ErrConnectTimeout = errors.New("timed out waiting for connection")
)

// FormatUserError turns an error chain into a one-line message with a hint
// for the failures users can fix themselves.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	switch {
	case errors.Is(err, transport.ErrUnsupported):
		return msg + " (try --transport memory on this platform)"
	case errors.Is(err, session.ErrPermissionDenied), errors.Is(err, os.ErrPermission):
		return msg + " (check Bluetooth permissions, e.g. run as a member of the bluetooth group)"
	case strings.Contains(msg, "org.freedesktop.DBus.Error.ServiceUnknown"):
		return msg + " (is bluetoothd running?)"
	}
	return msg
}
