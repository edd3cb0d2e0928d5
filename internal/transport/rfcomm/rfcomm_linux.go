//go:build linux

package rfcomm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppchat/internal/transport"
	"golang.org/x/sys/unix"
)

type handle struct {
	deviceID string
	addr     [6]byte
	channel  uint8
	poll     time.Duration
	logger   *logrus.Logger

	mu         sync.Mutex
	fd         int
	file       *os.File
	closed     bool
	connecting bool // Connect owns the fd until it returns
}

func newHandle(deviceID string, opts Options, logger *logrus.Logger) (transport.Handle, error) {
	addr, err := transport.AddressBytes(deviceID)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm: create socket: %w", err)
	}
	return &handle{
		deviceID: deviceID,
		addr:     addr,
		channel:  opts.Channel,
		poll:     opts.PollInterval,
		logger:   logger,
		fd:       fd,
	}, nil
}

// Connect issues a non-blocking connect and polls for completion, checking
// for Close and ctx between poll intervals. A Close that lands meanwhile only
// shuts the socket down; the fd is closed here once nothing polls it.
func (h *handle) Connect(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return transport.ErrClosed
	}
	if h.connecting || h.file != nil {
		h.mu.Unlock()
		return fmt.Errorf("rfcomm: %s already connecting or connected", h.deviceID)
	}
	h.connecting = true
	fd := h.fd
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.connecting = false
		if h.closed && h.file == nil {
			_ = unix.Close(fd)
		}
	}()

	sa := &unix.SockaddrRFCOMM{Addr: h.addr, Channel: h.channel}
	h.logger.WithFields(logrus.Fields{
		"device":  h.deviceID,
		"channel": h.channel,
	}).Debug("rfcomm connect")

	err := unix.Connect(fd, sa)
	if err != nil && !errors.Is(err, unix.EINPROGRESS) && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("rfcomm: connect %s channel %d: %w", h.deviceID, h.channel, err)
	}

	if err != nil {
		if err := h.waitWritable(ctx, fd); err != nil {
			return err
		}
		if h.isClosed() {
			return transport.ErrClosed
		}
		soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return fmt.Errorf("rfcomm: read socket error: %w", err)
		}
		if soErr != 0 {
			return fmt.Errorf("rfcomm: connect %s channel %d: %w", h.deviceID, h.channel, syscall.Errno(soErr))
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return transport.ErrClosed
	}
	// The fd is non-blocking, so os.NewFile registers it with the runtime
	// poller and Close unblocks pending Read/Write calls.
	h.file = os.NewFile(uintptr(fd), "rfcomm:"+h.deviceID)
	return nil
}

func (h *handle) waitWritable(ctx context.Context, fd int) error {
	timeoutMs := int(h.poll / time.Millisecond)
	if timeoutMs <= 0 {
		timeoutMs = 1
	}
	pollFd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if h.isClosed() {
			return transport.ErrClosed
		}

		n, err := unix.Poll(pollFd, timeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("rfcomm: poll: %w", err)
		}
		if n > 0 {
			return nil
		}
	}
}

func (h *handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *handle) Read(p []byte) (int, error) {
	f, err := h.connectedFile()
	if err != nil {
		return 0, err
	}
	return f.Read(p)
}

func (h *handle) Write(p []byte) (int, error) {
	f, err := h.connectedFile()
	if err != nil {
		return 0, err
	}
	return f.Write(p)
}

func (h *handle) connectedFile() (*os.File, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.file == nil {
		return nil, transport.ErrClosed
	}
	return h.file, nil
}

// Close releases the socket. It is idempotent. While Connect is running the
// socket is shut down instead, and Connect closes the fd on its way out.
func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	switch {
	case h.file != nil:
		return h.file.Close()
	case h.connecting:
		if err := unix.Shutdown(h.fd, unix.SHUT_RDWR); err != nil && !errors.Is(err, unix.ENOTCONN) {
			h.logger.WithError(err).WithField("device", h.deviceID).Debug("rfcomm shutdown")
		}
		return nil
	default:
		return unix.Close(h.fd)
	}
}
