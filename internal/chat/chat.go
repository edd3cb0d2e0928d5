// Package chat keeps a text conversation on top of a session manager: it turns
// session events into transcript entries and validates outgoing messages.
package chat

import (
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppchat/internal/session"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrNotConnected = errors.New("device not connected")
	ErrSendFailed   = errors.New("failed to send message")
)

// System message texts.
const (
	TextConnecting    = "Connecting..."
	TextConnected     = "Connected. You can start chatting."
	TextConnectFailed = "Connection failed: "
	TextDisconnected  = "Device disconnected"
	TextSendFailed    = "Failed to send message"
)

// QuickMessages are canned replies offered by interactive front ends.
var QuickMessages = []string{
	"Hi!",
	"OK",
	"How are you?",
	"Where are you?",
	"What time is it?",
	"Done!",
	"No",
	"Perfect!",
	"I have an idea",
	"Call me",
}

// Link is the part of session.Manager a Chat sends through.
type Link interface {
	SendText(text string) bool
}

// Options configures a Chat.
type Options struct {
	Transcript *Transcript    // nil = new empty transcript
	OnMessage  func(Message)  // called after every append, on the appending goroutine
	Logger     *logrus.Logger // nil = silent
}

// Chat follows one session manager's events and records a transcript of the
// conversation.
type Chat struct {
	transcript *Transcript
	onMessage  func(Message)
	logger     *logrus.Logger

	mu         sync.Mutex
	link       Link
	generation uint64 // last started session
	connected  bool
	device     string
}

var _ session.EventHandler = (*Chat)(nil)

// New returns a chat that is not yet bound to a link.
func New(opts *Options) *Chat {
	if opts == nil {
		opts = &Options{}
	}
	t := opts.Transcript
	if t == nil {
		t = NewTranscript()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Chat{transcript: t, onMessage: opts.OnMessage, logger: logger}
}

// Bind sets the link used by Send. The manager must be created with
// c.Observer() first, so binding happens after construction.
func (c *Chat) Bind(link Link) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.link = link
}

// Transcript returns the chat's transcript.
func (c *Chat) Transcript() *Transcript {
	return c.transcript
}

// Connected reports the link state as last seen through session events.
func (c *Chat) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// DeviceAddress returns the device of the most recently started session.
func (c *Chat) DeviceAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device
}

// Send trims text and sends it to the connected device. The message is added
// to the transcript before the write; a failed write adds a system message.
func (c *Chat) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	link, connected, device := c.link, c.connected, c.device
	c.mu.Unlock()
	if !connected || link == nil {
		return ErrNotConnected
	}

	c.add(NewSentMessage(text, device))
	if !link.SendText(text) {
		c.logger.WithField("device", device).Error("Failed to send message")
		c.add(NewSystemMessage(TextSendFailed))
		return ErrSendFailed
	}
	c.logger.WithFields(logrus.Fields{"device": device, "text": text}).Debug("Message sent")
	return nil
}

// SendQuick sends QuickMessages[i].
func (c *Chat) SendQuick(i int) error {
	if i < 0 || i >= len(QuickMessages) {
		return ErrEmptyMessage
	}
	return c.Send(QuickMessages[i])
}

func (c *Chat) add(msg Message) {
	c.transcript.Add(msg)
	if c.onMessage != nil {
		c.onMessage(msg)
	}
}

// HandleEvent applies one session event. Events of a generation older than
// the last started session are ignored, and a refused connect (no
// generation) is only noted in the transcript: neither can change the state
// of the session the chat is following.
func (c *Chat) HandleEvent(e session.Event) {
	c.mu.Lock()
	switch {
	case e.Generation == session.NoGeneration:
		c.mu.Unlock()
		if e.Kind == session.EventConnectionFailed {
			c.logger.WithFields(logrus.Fields{"device": e.DeviceID, "reason": e.Reason}).Warn("Connection refused")
			c.add(NewSystemMessage(TextConnectFailed + e.Reason))
		}
		return
	case e.Kind == session.EventConnectionStarted:
		if e.Generation < c.generation {
			c.mu.Unlock()
			return
		}
		c.generation = e.Generation
		c.device = e.DeviceID
		c.connected = false
	case e.Generation != c.generation:
		c.mu.Unlock()
		c.logger.WithFields(logrus.Fields{
			"event":      e.Kind.String(),
			"generation": e.Generation,
		}).Debug("Stale session event ignored")
		return
	case e.Kind == session.EventConnectionSucceeded:
		c.connected = true
	case e.Kind.Terminal():
		c.connected = false
	}
	c.mu.Unlock()

	switch e.Kind {
	case session.EventConnectionStarted:
		c.add(NewSystemMessage(TextConnecting))
	case session.EventConnectionSucceeded:
		c.add(NewSystemMessage(TextConnected))
	case session.EventConnectionFailed:
		c.logger.WithFields(logrus.Fields{"device": e.DeviceID, "reason": e.Reason}).Warn("Connection failed")
		c.add(NewSystemMessage(TextConnectFailed + e.Reason))
	case session.EventDisconnected:
		c.add(NewSystemMessage(TextDisconnected))
	case session.EventDataReceived:
		c.dataReceived(e.DeviceID, e.Payload)
	}
}

// Observer returns the chat as a session observer.
func (c *Chat) Observer() session.Observer {
	return session.EventHandlerFunc(c.HandleEvent)
}

// dataReceived records the payload as one received message. Payloads that
// are only whitespace are dropped.
func (c *Chat) dataReceived(deviceID, payload string) {
	text := strings.TrimSpace(payload)
	if text == "" {
		return
	}
	c.add(NewReceivedMessage(text, deviceID))
}
