package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppchat/internal/groutine"
)

// EventKind identifies a session lifecycle or data event.
type EventKind int

const (
	EventConnectionStarted EventKind = iota + 1
	EventConnectionSucceeded
	EventConnectionFailed
	EventDisconnected
	EventDataReceived
)

func (k EventKind) String() string {
	switch k {
	case EventConnectionStarted:
		return "connection_started"
	case EventConnectionSucceeded:
		return "connection_succeeded"
	case EventConnectionFailed:
		return "connection_failed"
	case EventDisconnected:
		return "disconnected"
	case EventDataReceived:
		return "data_received"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Terminal reports whether the event ends a connection attempt or session.
func (k EventKind) Terminal() bool {
	return k == EventConnectionFailed || k == EventDisconnected
}

// Event is one observer notification.
type Event struct {
	Kind       EventKind
	DeviceID   string
	Generation uint64    // session generation that produced the event
	Reason     string    // set on EventConnectionFailed
	Payload    string    // set on EventDataReceived: the bytes of one read, as text
	Err        error     // *Error on failure events, nil otherwise
	Time       time.Time // when the event was queued
}

// Observer receives session events. Calls come from a single dispatcher
// goroutine, one at a time, in the order the events were produced.
type Observer interface {
	ConnectionStarted(deviceID string)
	ConnectionSucceeded(deviceID string)
	ConnectionFailed(deviceID, reason string)
	Disconnected(deviceID string)
	DataReceived(deviceID, payload string)
}

// EventHandler is an alternative to Observer for consumers that want the full
// Event (generation, typed error). When the observer passed to the manager
// implements EventHandler, HandleEvent is called instead of the Observer methods.
type EventHandler interface {
	HandleEvent(Event)
}

// ObserverFuncs implements Observer with optional callbacks; nil fields are skipped.
type ObserverFuncs struct {
	OnConnectionStarted   func(deviceID string)
	OnConnectionSucceeded func(deviceID string)
	OnConnectionFailed    func(deviceID, reason string)
	OnDisconnected        func(deviceID string)
	OnDataReceived        func(deviceID, payload string)
}

func (o ObserverFuncs) ConnectionStarted(id string) {
	if o.OnConnectionStarted != nil {
		o.OnConnectionStarted(id)
	}
}

func (o ObserverFuncs) ConnectionSucceeded(id string) {
	if o.OnConnectionSucceeded != nil {
		o.OnConnectionSucceeded(id)
	}
}

func (o ObserverFuncs) ConnectionFailed(id, reason string) {
	if o.OnConnectionFailed != nil {
		o.OnConnectionFailed(id, reason)
	}
}

func (o ObserverFuncs) Disconnected(id string) {
	if o.OnDisconnected != nil {
		o.OnDisconnected(id)
	}
}

func (o ObserverFuncs) DataReceived(id, payload string) {
	if o.OnDataReceived != nil {
		o.OnDataReceived(id, payload)
	}
}

// EventHandlerFunc adapts a function to EventHandler and Observer. Its
// Observer methods do nothing: the manager and Deliver always call HandleEvent.
type EventHandlerFunc func(Event)

func (f EventHandlerFunc) HandleEvent(e Event) { f(e) }

func (f EventHandlerFunc) ConnectionStarted(string) {}
func (f EventHandlerFunc) ConnectionSucceeded(string) {}
func (f EventHandlerFunc) ConnectionFailed(string, string) {}
func (f EventHandlerFunc) Disconnected(string) {}
func (f EventHandlerFunc) DataReceived(string, string) {}

// dispatcher delivers events to the observer from one goroutine. The queue is
// unbounded so producers (workers holding the manager lock) never block.
type dispatcher struct {
	observer Observer
	logger   *logrus.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	done   chan struct{}
}

func newDispatcher(observer Observer, logger *logrus.Logger) *dispatcher {
	d := &dispatcher{
		observer: observer,
		logger:   logger,
		done:     make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	groutine.Go(context.Background(), "session-dispatch", d.loop)
	return d
}

// post queues e. It returns false once the dispatcher is closed.
func (d *dispatcher) post(e Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	d.queue = append(d.queue, e)
	d.cond.Signal()
	return true
}

func (d *dispatcher) loop(context.Context) {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		e := d.queue[0]
		d.queue[0] = Event{}
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.deliver(e)
	}
}

func (d *dispatcher) deliver(e Event) {
	if d.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"event":  e.Kind.String(),
				"device": e.DeviceID,
				"panic":  r,
			}).Error("Session observer panicked")
		}
	}()

	Deliver(d.observer, e)
}

// Deliver hands e to o: through HandleEvent when o is an EventHandler,
// otherwise through the matching Observer method. Observers that forward to
// other observers use it to keep the generation and error of each event.
func Deliver(o Observer, e Event) {
	if o == nil {
		return
	}
	if h, ok := o.(EventHandler); ok {
		h.HandleEvent(e)
		return
	}

	switch e.Kind {
	case EventConnectionStarted:
		o.ConnectionStarted(e.DeviceID)
	case EventConnectionSucceeded:
		o.ConnectionSucceeded(e.DeviceID)
	case EventConnectionFailed:
		o.ConnectionFailed(e.DeviceID, e.Reason)
	case EventDisconnected:
		o.Disconnected(e.DeviceID)
	case EventDataReceived:
		o.DataReceived(e.DeviceID, e.Payload)
	}
}

// close stops accepting events and waits until the queued ones are delivered.
func (d *dispatcher) close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		d.cond.Broadcast()
	}
	d.mu.Unlock()
	<-d.done
}
