package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppchat/internal/groutine"
	"github.com/srg/sppchat/internal/transport"
)

// DefaultReadBufferSize is the size of the read worker's buffer and therefore
// the largest payload a single DataReceived event can carry.
const DefaultReadBufferSize = 1024

// NoGeneration tags events that belong to no session. Only a Connect refused
// by the capability check produces one; real sessions start at generation 1.
const NoGeneration uint64 = 0

// maxEmptyReads is how many (0, nil) reads in a row the read worker tolerates
// before giving up with io.ErrNoProgress.
const maxEmptyReads = 100

// State is the lifecycle state of the manager's session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CapabilityCheck reports whether the host currently allows opening a connection.
type CapabilityCheck func() bool

// DiscoveryPauser is asked to stop device discovery before a connect attempt.
type DiscoveryPauser interface {
	PauseDiscovery() error
}

// Options configures a Manager.
type Options struct {
	Factory        transport.Factory // required
	Observer       Observer          // receives events; nil discards them
	CanConnect     CapabilityCheck   // default check when Connect is given none; nil allows
	Discovery      DiscoveryPauser   // optional
	ReadBufferSize int               // 0 = DefaultReadBufferSize
	Logger         *logrus.Logger    // nil = silent
}

// session is one connection attempt and, if it succeeds, the live link.
// Fields other than the immutable ones are guarded by Manager.mu.
type session struct {
	generation uint64
	deviceID   string
	cancel     context.CancelFunc

	state   State
	handle  transport.Handle
	reading bool
}

// Manager owns at most one outbound device session.
//
// Connect, Disconnect and Close are serialized with each other. Send may be
// called concurrently with them and with the read worker; writes are
// serialized internally. Observer callbacks run on a dedicated goroutine and
// must not call Close.
type Manager struct {
	factory        transport.Factory
	canConnect     CapabilityCheck
	discovery      DiscoveryPauser
	readBufferSize int
	logger         *logrus.Logger

	dispatch *dispatcher
	workers  groutine.Group

	cmdMu   sync.Mutex // serializes Connect, Disconnect, Close
	writeMu sync.Mutex // serializes transport writes

	mu         sync.Mutex
	generation uint64
	current    *session
	releasing  *session
	closed     bool
}

// NewManager creates an idle manager.
func NewManager(opts *Options) (*Manager, error) {
	if opts == nil || opts.Factory == nil {
		return nil, errors.New("session: transport factory is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	bufSize := opts.ReadBufferSize
	if bufSize <= 0 {
		bufSize = DefaultReadBufferSize
	}

	return &Manager{
		factory:        opts.Factory,
		canConnect:     opts.CanConnect,
		discovery:      opts.Discovery,
		readBufferSize: bufSize,
		logger:         logger,
		dispatch:       newDispatcher(opts.Observer, logger),
	}, nil
}

// Connect starts an asynchronous connection to deviceID, replacing any
// current session. check overrides the manager's default capability check.
//
// When the check refuses, ConnectionFailed(deviceID, "permission denied") is
// emitted with NoGeneration and nothing else happens: no generation is
// consumed and the current session is kept. Otherwise ConnectionStarted is emitted
// before Connect returns, followed later by exactly one of
// ConnectionSucceeded or ConnectionFailed for the same generation.
func (m *Manager) Connect(deviceID string, check CapabilityCheck) {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	log := m.logger.WithField("device", deviceID)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		log.Warn("Connect on closed session manager ignored")
		return
	}
	m.mu.Unlock()

	if check == nil {
		check = m.canConnect
	}
	if check != nil && !check() {
		log.Warn("Connect refused: permission denied")
		m.mu.Lock()
		m.post(Event{
			Kind:       EventConnectionFailed,
			DeviceID:   deviceID,
			Generation: NoGeneration,
			Reason:     ReasonPermissionDenied,
			Err:        newError(KindPermissionDenied, deviceID, nil),
		})
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	prev := m.detachLocked()
	m.mu.Unlock()
	m.release(prev)

	m.pauseDiscovery(log)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	gen := m.generation
	log = log.WithField("generation", gen)

	handle, err := m.factory.Create(deviceID)
	if err != nil {
		log.WithError(err).Error("Failed to create transport handle")
		m.post(Event{Kind: EventConnectionStarted, DeviceID: deviceID, Generation: gen})
		m.post(Event{
			Kind:       EventConnectionFailed,
			DeviceID:   deviceID,
			Generation: gen,
			Reason:     fmt.Sprintf("%s: %v", ReasonHandleCreation, err),
			Err:        newError(KindHandleCreation, deviceID, err),
		})
		return
	}
	if handle == nil {
		log.Error("Transport factory returned no handle")
		m.post(Event{Kind: EventConnectionStarted, DeviceID: deviceID, Generation: gen})
		m.post(Event{
			Kind:       EventConnectionFailed,
			DeviceID:   deviceID,
			Generation: gen,
			Reason:     ReasonHandleCreation,
			Err:        newError(KindHandleCreation, deviceID, nil),
		})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		generation: gen,
		deviceID:   deviceID,
		cancel:     cancel,
		state:      StateConnecting,
		handle:     handle,
	}
	m.current = s

	log.Info("Connecting")
	m.post(Event{Kind: EventConnectionStarted, DeviceID: deviceID, Generation: gen})

	m.workers.Go(ctx, "session-connect", groutine.GenerationLabels(gen, deviceID), func(ctx context.Context) {
		m.runConnect(ctx, s, handle)
	})
}

// Disconnect tears down the current session, if any. The transport handle is
// released before Disconnect returns; workers exit shortly after. Calling it
// while idle does nothing and emits nothing.
func (m *Manager) Disconnect() {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	m.mu.Lock()
	s := m.detachLocked()
	m.mu.Unlock()

	if s == nil {
		return
	}
	m.release(s)
}

// Close disconnects, waits for the workers to exit and delivers any pending
// events. The manager cannot be reused afterwards.
func (m *Manager) Close() {
	m.cmdMu.Lock()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.cmdMu.Unlock()
		return
	}
	m.closed = true
	s := m.detachLocked()
	m.mu.Unlock()
	m.release(s)
	m.cmdMu.Unlock()

	m.workers.Wait()
	m.dispatch.close()
}

// Send writes data to the connected peer. It returns false when there is no
// connected session or the write fails; it never retries and never emits events.
func (m *Manager) Send(data []byte) bool {
	return m.SendErr(data) == nil
}

// SendText is Send for a string payload.
func (m *Manager) SendText(text string) bool {
	return m.Send([]byte(text))
}

// SendErr is Send with the failure reason: ErrNotConnected or an *Error of
// KindTransportWrite wrapping the transport error.
func (m *Manager) SendErr(data []byte) error {
	m.mu.Lock()
	s := m.current
	if s == nil || s.state != StateConnected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	h, deviceID, gen := s.handle, s.deviceID, s.generation
	m.mu.Unlock()

	log := m.logger.WithFields(logrus.Fields{
		"device":     deviceID,
		"generation": gen,
		"bytes":      len(data),
	})

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if _, err := h.Write(data); err != nil {
		log.WithError(err).Warn("Write failed")
		return newError(KindTransportWrite, deviceID, err)
	}
	if f, ok := h.(transport.Flusher); ok {
		if err := f.Flush(); err != nil {
			log.WithError(err).Warn("Flush failed")
			return newError(KindTransportWrite, deviceID, err)
		}
	}
	log.Debug("Data sent")
	return nil
}

// IsConnected reports whether a session is connected and its read worker is running.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.state == StateConnected && m.current.reading
}

// State returns the lifecycle state of the current session.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.current != nil:
		return m.current.state
	case m.releasing != nil:
		return StateDisconnecting
	default:
		return StateIdle
	}
}

// DeviceID returns the target of the current session, or "" when idle.
func (m *Manager) DeviceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.deviceID
}

// Generation returns the generation of the most recent session started by
// Connect, or NoGeneration if none was.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

func (m *Manager) runConnect(ctx context.Context, s *session, h transport.Handle) {
	log := m.logger.WithFields(logrus.Fields{
		"device":     s.deviceID,
		"generation": s.generation,
	})

	err := h.Connect(ctx)

	m.mu.Lock()
	if m.current != s {
		m.mu.Unlock()
		log.WithError(err).Debug("Connect result dropped: session superseded")
		return
	}

	if err != nil {
		m.current = nil
		s.state = StateIdle
		s.handle = nil
		m.post(Event{
			Kind:       EventConnectionFailed,
			DeviceID:   s.deviceID,
			Generation: s.generation,
			Reason:     err.Error(),
			Err:        newError(KindTransportOpen, s.deviceID, err),
		})
		m.mu.Unlock()

		log.WithError(err).Warn("Connection failed")
		s.cancel()
		m.closeHandle(h, log)
		return
	}

	s.state = StateConnected
	s.reading = true
	m.post(Event{Kind: EventConnectionSucceeded, DeviceID: s.deviceID, Generation: s.generation})
	m.workers.Go(ctx, "session-read", groutine.GenerationLabels(s.generation, s.deviceID), func(ctx context.Context) {
		m.runRead(ctx, s, h)
	})
	m.mu.Unlock()

	log.Info("Connected")
}

// runRead delivers each read as one DataReceived event. No framing is
// applied: a message the peer sent in one write may arrive split over
// several events, or several messages in one.
func (m *Manager) runRead(_ context.Context, s *session, h transport.Handle) {
	log := m.logger.WithFields(logrus.Fields{
		"device":     s.deviceID,
		"generation": s.generation,
	})
	buf := make([]byte, m.readBufferSize)
	empty := 0

	for {
		n, err := h.Read(buf)
		if n > 0 {
			empty = 0
			payload := string(buf[:n])
			m.mu.Lock()
			if m.current != s {
				m.mu.Unlock()
				return
			}
			m.post(Event{Kind: EventDataReceived, DeviceID: s.deviceID, Generation: s.generation, Payload: payload})
			m.mu.Unlock()
			log.WithField("bytes", n).Debug("Data received")
		}
		if n == 0 && err == nil {
			empty++
			if empty < maxEmptyReads {
				runtime.Gosched()
				continue
			}
			err = io.ErrNoProgress
		}
		if err == nil {
			continue
		}

		m.mu.Lock()
		if m.current != s {
			m.mu.Unlock()
			log.WithError(err).Debug("Read worker stopped: session released")
			return
		}
		m.current = nil
		s.state = StateIdle
		s.reading = false
		s.handle = nil
		m.post(Event{
			Kind:       EventDisconnected,
			DeviceID:   s.deviceID,
			Generation: s.generation,
			Err:        newError(KindTransportRead, s.deviceID, err),
		})
		m.mu.Unlock()

		log.WithError(err).Info("Disconnected")
		s.cancel()
		m.closeHandle(h, log)
		return
	}
}

// detachLocked removes the current session and emits its terminal event:
// Disconnected for a connected session, ConnectionFailed for one still
// connecting. The caller must release the returned session. m.mu must be held.
func (m *Manager) detachLocked() *session {
	s := m.current
	if s == nil {
		return nil
	}
	m.current = nil
	m.releasing = s

	switch s.state {
	case StateConnecting:
		m.post(Event{
			Kind:       EventConnectionFailed,
			DeviceID:   s.deviceID,
			Generation: s.generation,
			Reason:     ReasonCancelled,
			Err:        newError(KindCancelled, s.deviceID, nil),
		})
	case StateConnected:
		m.post(Event{
			Kind:       EventDisconnected,
			DeviceID:   s.deviceID,
			Generation: s.generation,
			Err:        newError(KindCancelled, s.deviceID, nil),
		})
	}
	s.state = StateDisconnecting
	return s
}

// release closes the session's handle and cancels its workers.
func (m *Manager) release(s *session) {
	if s == nil {
		return
	}
	log := m.logger.WithFields(logrus.Fields{
		"device":     s.deviceID,
		"generation": s.generation,
	})

	m.mu.Lock()
	h := s.handle
	m.mu.Unlock()

	s.cancel()
	if h != nil {
		m.closeHandle(h, log)
	}

	m.mu.Lock()
	s.handle = nil
	s.reading = false
	s.state = StateIdle
	if m.releasing == s {
		m.releasing = nil
	}
	m.mu.Unlock()

	log.Info("Session released")
}

// closeHandle closes h; errors are logged only, the session is gone either way.
func (m *Manager) closeHandle(h transport.Handle, log *logrus.Entry) {
	if err := h.Close(); err != nil {
		log.WithError(err).Debug("Ignoring transport close error")
	}
}

func (m *Manager) pauseDiscovery(log *logrus.Entry) {
	if m.discovery == nil {
		return
	}
	if err := m.discovery.PauseDiscovery(); err != nil {
		log.WithError(err).Warn("Unable to pause discovery")
	}
}

// post queues an event; m.mu must be held so that event order matches state order.
func (m *Manager) post(e Event) {
	if !m.dispatch.post(e) {
		m.logger.WithField("event", e.Kind.String()).Debug("Event dropped: dispatcher closed")
	}
}
