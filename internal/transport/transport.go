// Package transport defines the byte-stream link the session manager rides on
// and the factories that produce it.
//
// A Handle is created unconnected by a Factory, opened with Connect, then used
// as a plain io.ReadWriteCloser. Close must be safe to call from any goroutine
// and must make a blocked Connect or Read return promptly; the session manager
// relies on that as its only cancellation mechanism.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// SPPUUID is the Bluetooth Serial Port Profile service class UUID.
// Real SPP peers match on this exact value.
const SPPUUID = "00001101-0000-1000-8000-00805F9B34FB"

// ErrUnsupported is returned by transports that are not available on this platform.
var ErrUnsupported = errors.New("transport not supported on this platform")

// ErrClosed is returned by operations on a handle that was already closed.
var ErrClosed = errors.New("transport closed")

// Handle is an openable bidirectional byte stream to one peer device.
type Handle interface {
	io.ReadWriteCloser

	// Connect blocks until the link is established, ctx is done, or the handle is closed.
	Connect(ctx context.Context) error
}

// Flusher is implemented by handles that buffer writes.
type Flusher interface {
	Flush() error
}

// Factory produces unconnected handles for a device identifier.
type Factory interface {
	Create(deviceID string) (Handle, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(deviceID string) (Handle, error)

// Create calls f(deviceID).
func (f FactoryFunc) Create(deviceID string) (Handle, error) {
	return f(deviceID)
}

// ParseAddress validates a Bluetooth device address and returns it in the
// canonical upper-case colon form, e.g. "AA:BB:CC:DD:EE:FF".
func ParseAddress(s string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid bluetooth address %q: %w", s, err)
	}
	if len(hw) != 6 {
		return "", fmt.Errorf("invalid bluetooth address %q: expected 6 bytes, got %d", s, len(hw))
	}
	return strings.ToUpper(hw.String()), nil
}

// AddressBytes returns the address bytes in the little-endian order the
// Linux kernel uses for bdaddr_t.
func AddressBytes(s string) ([6]byte, error) {
	var b [6]byte
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return b, fmt.Errorf("invalid bluetooth address %q: %w", s, err)
	}
	if len(hw) != 6 {
		return b, fmt.Errorf("invalid bluetooth address %q: expected 6 bytes, got %d", s, len(hw))
	}
	for i := 0; i < 6; i++ {
		b[i] = hw[5-i]
	}
	return b, nil
}
