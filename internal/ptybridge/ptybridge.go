// Package ptybridge exposes a device session as a pseudo-terminal so serial
// tools (minicom, screen, pyserial) can talk to the peer.
//
// Bytes written to the PTY slave are sent to the device. Session data is
// queued in a ring buffer and written to the PTY master by a background
// loop; when the queue is full the excess is dropped and counted.
package ptybridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/sppchat/internal/groutine"
	"github.com/srg/sppchat/internal/session"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const (
	// DefaultQueueSize is the capacity of the session-to-PTY queue in bytes.
	DefaultQueueSize = 4096

	// DefaultPollTimeout bounds how long a pump waits before re-checking for shutdown.
	DefaultPollTimeout = 50 * time.Millisecond

	readChunk = 1024
)

// Sender delivers bytes read from the PTY to the device.
type Sender interface {
	Send(data []byte) bool
}

// Options configures Open.
type Options struct {
	SymlinkPath string         // optional stable path to the slave, e.g. /tmp/spp0
	QueueSize   int            // 0 = DefaultQueueSize
	PollTimeout time.Duration  // 0 = DefaultPollTimeout
	Logger      *logrus.Logger // nil = silent
}

// Stats are the bridge's byte counters.
type Stats struct {
	ToDevice uint64 // bytes read from the PTY and accepted by the sender
	ToPTY    uint64 // bytes written to the PTY master
	Dropped  uint64 // session bytes lost to a full queue
	Rejected uint64 // PTY bytes the sender refused
}

// Bridge is an open PTY pair wired to a Sender.
type Bridge struct {
	logger      *logrus.Logger
	master      *os.File
	slave       *os.File
	fd          int
	ttyName     string
	symlink     string
	pollTimeout int

	sender Sender
	queue  *ringbuffer.RingBuffer
	notify chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	pumps  groutine.Group

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	toDevice atomic.Uint64
	toPTY    atomic.Uint64
	dropped  atomic.Uint64
	rejected atomic.Uint64
}

// Open creates a raw-mode PTY pair, optionally links SymlinkPath to the slave
// and starts the pumps.
func Open(sender Sender, opts *Options) (*Bridge, error) {
	if sender == nil {
		return nil, errors.New("ptybridge: sender is required")
	}
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	pollTimeout := opts.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("ptybridge: open PTY (check permissions and available PTY devices): %w", err)
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("ptybridge: set %s to raw mode: %w", slave.Name(), err)
	}
	fd := int(master.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("ptybridge: set PTY master non-blocking: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		logger:      logger,
		master:      master,
		slave:       slave,
		fd:          fd,
		ttyName:     slave.Name(),
		pollTimeout: int(pollTimeout / time.Millisecond),
		sender:      sender,
		queue:       ringbuffer.New(queueSize),
		notify:      make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}

	if opts.SymlinkPath != "" {
		if err := os.Symlink(b.ttyName, opts.SymlinkPath); err != nil {
			cancel()
			_ = master.Close()
			_ = slave.Close()
			return nil, fmt.Errorf("ptybridge: create tty symlink %s -> %s: %w", opts.SymlinkPath, b.ttyName, err)
		}
		b.symlink = opts.SymlinkPath
		logger.WithFields(logrus.Fields{"tty_symlink": b.symlink, "target": b.ttyName}).Info("Created PTY symlink")
	}

	b.pumps.Go(ctx, "pty-read-loop", nil, func(context.Context) { b.readLoop() })
	b.pumps.Go(ctx, "pty-write-loop", nil, func(context.Context) { b.writeLoop() })

	logger.WithField("tty", b.ttyName).Info("Created PTY device")
	return b, nil
}

// TTYName returns the slave device path, e.g. /dev/pts/5.
func (b *Bridge) TTYName() string { return b.ttyName }

// Symlink returns the symlink path, or "" when none was requested.
func (b *Bridge) Symlink() string { return b.symlink }

// Stats returns a snapshot of the byte counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		ToDevice: b.toDevice.Load(),
		ToPTY:    b.toPTY.Load(),
		Dropped:  b.dropped.Load(),
		Rejected: b.rejected.Load(),
	}
}

// Write queues data for the PTY. It never blocks; bytes that do not fit are
// dropped and n reports how many were queued.
func (b *Bridge) Write(data []byte) (int, error) {
	if b.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}
	n, err := b.queue.Write(data)
	if n < len(data) {
		b.dropped.Add(uint64(len(data) - n))
		b.logger.WithFields(logrus.Fields{
			"queued":  n,
			"dropped": len(data) - n,
		}).Warn("PTY queue full, data dropped")
	}
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) && !errors.Is(err, ringbuffer.ErrTooMuchDataToWrite) {
		return n, err
	}
	if n > 0 {
		select {
		case b.notify <- struct{}{}:
		default:
		}
	}
	return n, nil
}

// Observer returns a session.Observer that copies received data into the PTY
// and forwards every event to next (which may be nil).
func (b *Bridge) Observer(next session.Observer) session.Observer {
	return session.EventHandlerFunc(func(e session.Event) {
		if e.Kind == session.EventDataReceived {
			_, _ = b.Write([]byte(e.Payload))
		}
		session.Deliver(next, e)
	})
}

func (b *Bridge) readLoop() {
	pfd := []unix.PollFd{{Fd: int32(b.fd), Events: unix.POLLIN}}
	buf := make([]byte, readChunk)
	for b.ctx.Err() == nil {
		ready, err := unix.Poll(pfd, b.pollTimeout)
		if err != nil && !errors.Is(err, unix.EINTR) {
			b.logger.WithError(err).Warn("PTY read poll failed")
			continue
		}
		if ready == 0 {
			continue
		}
		n, err := unix.Read(b.fd, buf)
		if n > 0 {
			if b.sender.Send(buf[:n]) {
				b.toDevice.Add(uint64(n))
			} else {
				b.rejected.Add(uint64(n))
				b.logger.WithField("bytes", n).Warn("Device refused PTY data")
			}
		}
		switch {
		case err == nil, errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EIO):
			// no process holds the slave open; wait for the next one
			time.Sleep(time.Duration(b.pollTimeout) * time.Millisecond)
		default:
			b.logger.WithError(err).Warn("PTY read loop exiting")
			return
		}
	}
}

func (b *Bridge) writeLoop() {
	pfd := []unix.PollFd{{Fd: int32(b.fd), Events: unix.POLLOUT}}
	buf := make([]byte, readChunk)
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.notify:
		}
		for b.ctx.Err() == nil {
			n, err := b.queue.Read(buf)
			if n == 0 || err != nil {
				break
			}
			for off := 0; off < n && b.ctx.Err() == nil; {
				w, err := unix.Write(b.fd, buf[off:n])
				if w > 0 {
					off += w
					b.toPTY.Add(uint64(w))
				}
				switch {
				case err == nil, errors.Is(err, unix.EINTR):
				case errors.Is(err, unix.EAGAIN):
					if _, perr := unix.Poll(pfd, b.pollTimeout); perr != nil && !errors.Is(perr, unix.EINTR) {
						b.logger.WithError(perr).Warn("PTY write poll failed")
					}
				default:
					b.logger.WithError(err).Warn("PTY write loop exiting")
					return
				}
			}
		}
	}
}

// Close stops the pumps, removes the symlink and closes the PTY pair.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.cancel()
		b.pumps.Wait()

		if b.symlink != "" {
			if err := os.Remove(b.symlink); err != nil {
				b.logger.WithError(err).WithField("tty_symlink", b.symlink).Warn("Failed to remove tty symlink")
			}
		}
		b.closeErr = errors.Join(b.master.Close(), b.slave.Close())
		b.logger.WithField("tty", b.ttyName).Debug("PTY closed")
	})
	return b.closeErr
}
