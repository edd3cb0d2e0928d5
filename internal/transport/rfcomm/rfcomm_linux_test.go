//go:build linux

package rfcomm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/sppchat/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// newTestHandle opens an RFCOMM socket, skipping when the kernel has no Bluetooth support.
func newTestHandle(t *testing.T) *handle {
	t.Helper()
	f := NewFactory(Options{PollInterval: 10 * time.Millisecond}, nil)
	h, err := f.Create("AA:BB:CC:DD:EE:FF")
	if errors.Is(err, unix.EAFNOSUPPORT) || errors.Is(err, unix.EPROTONOSUPPORT) || errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		t.Skipf("AF_BLUETOOTH unavailable: %v", err)
	}
	require.NoError(t, err)
	return h.(*handle)
}

func TestCreateRejectsBadAddress(t *testing.T) {
	_, err := NewFactory(Options{}, nil).Create("not-an-address")
	assert.Error(t, err)
}

func TestNewFactoryDefaults(t *testing.T) {
	f := NewFactory(Options{}, nil)
	assert.Equal(t, DefaultChannel, f.opts.Channel)
	assert.Equal(t, DefaultPollInterval, f.opts.PollInterval)
}

func TestCloseUnblocksConnect(t *testing.T) {
	// GOAL: Verify Close ends a pending connect without closing the fd under it
	//
	// TEST SCENARIO: Connect runs in the background -> Close -> Connect returns promptly -> handle stays closed

	h := newTestHandle(t)

	done := make(chan error, 1)
	go func() { done <- h.Connect(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, h.Close())

	select {
	case err := <-done:
		// Without a reachable adapter the connect may fail on its own before Close.
		assert.Error(t, err, "Connect MUST NOT succeed on a closed handle")
	case <-time.After(2 * time.Second):
		t.Fatal("Close MUST unblock Connect")
	}

	h.mu.Lock()
	assert.False(t, h.connecting, "Connect MUST release the fd on return")
	assert.Nil(t, h.file)
	h.mu.Unlock()

	assert.NoError(t, h.Close(), "second Close MUST be a no-op")
	_, err := h.Read(make([]byte, 1))
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestConnectCancelledByContext(t *testing.T) {
	h := newTestHandle(t)
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, h.Connect(ctx))
}

func TestConnectAfterClose(t *testing.T) {
	h := newTestHandle(t)
	require.NoError(t, h.Close())

	assert.ErrorIs(t, h.Connect(context.Background()), transport.ErrClosed)
	_, err := h.Write([]byte("x"))
	assert.ErrorIs(t, err, transport.ErrClosed)
}
