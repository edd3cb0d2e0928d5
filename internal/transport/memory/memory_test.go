package memory

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/srg/sppchat/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleRoundTrip(t *testing.T) {
	n := NewNetwork(0, nil)
	peer := n.AddPeer("AA:BB:CC:DD:EE:FF")

	h, err := n.Create("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	require.NoError(t, h.Connect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := peer.Accept(ctx)
	require.NoError(t, err)

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)
	buf := make([]byte, 16)
	nr, err := h.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:nr]))

	_, err = h.Write([]byte("world"))
	require.NoError(t, err)
	nr, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:nr]))
}

func TestPeerCloseDrainsThenEOF(t *testing.T) {
	n := NewNetwork(0, nil)
	peer := n.AddPeer("AA:BB:CC:DD:EE:FF")
	h, err := n.Create("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	require.NoError(t, h.Connect(context.Background()))
	conn, err := peer.Accept(context.Background())
	require.NoError(t, err)

	_, err = conn.Write([]byte("bye"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	buf := make([]byte, 16)
	nr, err := h.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(buf[:nr]))

	_, err = h.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestCloseUnblocksRead(t *testing.T) {
	n := NewNetwork(0, nil)
	n.AddPeer("AA:BB:CC:DD:EE:FF")
	h, err := n.Create("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	require.NoError(t, h.Connect(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := h.Read(make([]byte, 8))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, h.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, transport.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Read MUST return after Close")
	}
	assert.NoError(t, h.Close(), "Close MUST be idempotent")
}

func TestHeldOpen(t *testing.T) {
	n := NewNetwork(0, nil)
	peer := n.AddPeer("AA:BB:CC:DD:EE:FF", WithHeldOpen())

	t.Run("released", func(t *testing.T) {
		h, err := n.Create("AA:BB:CC:DD:EE:FF")
		require.NoError(t, err)
		done := make(chan error, 1)
		go func() { done <- h.Connect(context.Background()) }()

		select {
		case <-done:
			t.Fatal("Connect MUST block until released")
		case <-time.After(20 * time.Millisecond):
		}
		peer.Release()
		assert.NoError(t, <-done)
	})

	t.Run("closed while held", func(t *testing.T) {
		held := n.AddPeer("11:22:33:44:55:66", WithHeldOpen())
		defer held.Release()
		h, err := n.Create("11:22:33:44:55:66")
		require.NoError(t, err)
		done := make(chan error, 1)
		go func() { done <- h.Connect(context.Background()) }()

		time.Sleep(10 * time.Millisecond)
		require.NoError(t, h.Close())
		assert.ErrorIs(t, <-done, transport.ErrClosed)
	})
}

func TestScriptedFailures(t *testing.T) {
	n := NewNetwork(0, nil)
	openErr := errors.New("open error")
	createErr := errors.New("no adapter")
	n.AddPeer("AA:BB:CC:DD:EE:FF", WithOpenError(openErr))
	n.AddPeer("11:22:33:44:55:66", WithCreateError(createErr))

	h, err := n.Create("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.ErrorIs(t, h.Connect(context.Background()), openErr)

	_, err = n.Create("11:22:33:44:55:66")
	assert.ErrorIs(t, err, createErr)

	h, err = n.Create("00:00:00:00:00:01")
	require.NoError(t, err)
	assert.ErrorIs(t, h.Connect(context.Background()), ErrNoSuchDevice)

	_, err = h.Read(make([]byte, 1))
	assert.ErrorIs(t, err, transport.ErrClosed, "unconnected handle MUST NOT read")
}
