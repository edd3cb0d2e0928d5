// Package memory is an in-process transport. Each device identifier maps to a
// scripted Peer; connecting a handle to it creates a pair of blocking ring
// buffers, one per direction. It backs the session tests and the loopback demo.
package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/sppchat/internal/groutine"
	"github.com/srg/sppchat/internal/transport"
)

// DefaultBufferSize is the per-direction capacity of a link, in bytes.
const DefaultBufferSize = 64 * 1024

// ErrNoSuchDevice is returned by Connect when no peer is registered for the identifier.
var ErrNoSuchDevice = errors.New("no such device")

// PeerOption configures a Peer.
type PeerOption func(*Peer)

// WithOpenError makes every Connect to the peer fail with err.
func WithOpenError(err error) PeerOption {
	return func(p *Peer) { p.openErr = err }
}

// WithCreateError makes the factory refuse to create handles for the peer.
func WithCreateError(err error) PeerOption {
	return func(p *Peer) { p.createErr = err }
}

// WithHeldOpen makes Connect block until Release is called, the context is
// done, or the handle is closed.
func WithHeldOpen() PeerOption {
	return func(p *Peer) { p.gate = make(chan struct{}) }
}

// WithEcho makes the peer write back everything it receives.
func WithEcho() PeerOption {
	return func(p *Peer) { p.echo = true }
}

// Network is a set of in-memory peers and the transport.Factory for them.
type Network struct {
	mu         sync.Mutex
	peers      map[string]*Peer
	bufferSize int
	logger     *logrus.Logger
}

// NewNetwork creates an empty network. bufferSize <= 0 selects DefaultBufferSize.
func NewNetwork(bufferSize int, logger *logrus.Logger) *Network {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Network{
		peers:      make(map[string]*Peer),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// AddPeer registers (or replaces) the peer answering for deviceID.
func (n *Network) AddPeer(deviceID string, opts ...PeerOption) *Peer {
	p := &Peer{
		id:    deviceID,
		links: make(chan *Conn, 16),
	}
	for _, opt := range opts {
		opt(p)
	}

	n.mu.Lock()
	n.peers[deviceID] = p
	n.mu.Unlock()
	return p
}

// Peer returns the peer registered for deviceID, or nil.
func (n *Network) Peer(deviceID string) *Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers[deviceID]
}

// Create implements transport.Factory.
func (n *Network) Create(deviceID string) (transport.Handle, error) {
	p := n.Peer(deviceID)
	if p != nil && p.createErr != nil {
		return nil, p.createErr
	}
	return &handle{
		deviceID: deviceID,
		peer:     p,
		net:      n,
		closed:   make(chan struct{}),
	}, nil
}

// Peer is the remote side of in-memory links for one device identifier.
type Peer struct {
	id        string
	openErr   error
	createErr error
	gate      chan struct{}
	gateOnce  sync.Once
	echo      bool

	links chan *Conn
}

// ID returns the device identifier the peer answers for.
func (p *Peer) ID() string { return p.id }

// Release lets held Connect calls proceed. Subsequent connects are not held.
func (p *Peer) Release() {
	if p.gate == nil {
		return
	}
	p.gateOnce.Do(func() { close(p.gate) })
}

// Accept waits for the next link established to this peer.
func (p *Peer) Accept(ctx context.Context) (*Conn, error) {
	select {
	case c := <-p.links:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Conn is the peer's end of an established link.
type Conn struct {
	toLocal   *ringbuffer.RingBuffer
	fromLocal *ringbuffer.RingBuffer
	closeOnce sync.Once
}

// Write delivers p to the local handle's next Read.
func (c *Conn) Write(p []byte) (int, error) {
	return c.toLocal.Write(p)
}

// Read returns bytes the local handle wrote.
func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.fromLocal.Read(p)
	if errors.Is(err, transport.ErrClosed) {
		err = io.EOF
	}
	return n, err
}

// Close hangs up from the peer side: the local handle drains what is
// buffered and then reads io.EOF.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.toLocal.CloseWriter()
		c.fromLocal.CloseWithError(transport.ErrClosed)
	})
	return nil
}

type handle struct {
	deviceID string
	peer     *Peer
	net      *Network

	mu        sync.Mutex
	in        *ringbuffer.RingBuffer
	out       *ringbuffer.RingBuffer
	closed    chan struct{}
	closeOnce sync.Once
}

func (h *handle) Connect(ctx context.Context) error {
	if h.peer == nil {
		return fmt.Errorf("connect %s: %w", h.deviceID, ErrNoSuchDevice)
	}
	if h.peer.openErr != nil {
		return h.peer.openErr
	}

	if h.peer.gate != nil {
		select {
		case <-h.peer.gate:
		case <-ctx.Done():
			return ctx.Err()
		case <-h.closed:
			return transport.ErrClosed
		}
	}

	h.mu.Lock()
	select {
	case <-h.closed:
		h.mu.Unlock()
		return transport.ErrClosed
	default:
	}
	h.in = ringbuffer.New(h.net.bufferSize).SetBlocking(true)
	h.out = ringbuffer.New(h.net.bufferSize).SetBlocking(true)
	conn := &Conn{toLocal: h.in, fromLocal: h.out}
	h.mu.Unlock()

	h.net.logger.WithField("device", h.deviceID).Debug("memory link established")

	if h.peer.echo {
		groutine.Go(context.Background(), "memory-echo-"+h.deviceID, func(context.Context) {
			_, _ = io.Copy(conn, conn)
		})
	}

	select {
	case h.peer.links <- conn:
	default:
		h.net.logger.WithField("device", h.deviceID).Debug("memory peer backlog full, link not announced")
	}
	return nil
}

func (h *handle) Read(p []byte) (int, error) {
	h.mu.Lock()
	in := h.in
	h.mu.Unlock()
	if in == nil {
		return 0, transport.ErrClosed
	}
	return in.Read(p)
}

func (h *handle) Write(p []byte) (int, error) {
	h.mu.Lock()
	out := h.out
	h.mu.Unlock()
	if out == nil {
		return 0, transport.ErrClosed
	}
	return out.Write(p)
}

func (h *handle) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		close(h.closed)
		if h.in != nil {
			h.in.CloseWithError(transport.ErrClosed)
			h.out.CloseWithError(transport.ErrClosed)
		}
	})
	return nil
}
