package chat

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type tells who produced a message.
type Type int

const (
	TypeSent     Type = iota // written by us
	TypeReceived             // read from the peer
	TypeSystem               // connection status and errors
)

func (t Type) String() string {
	switch t {
	case TypeSent:
		return "sent"
	case TypeReceived:
		return "received"
	case TypeSystem:
		return "system"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

const previewLimit = 50

// Message is one transcript entry.
type Message struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	Type          Type      `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	Delivered     bool      `json:"delivered"`
	DeviceAddress string    `json:"device_address,omitempty"`
}

func newMessage(text string, typ Type, deviceAddress string, now time.Time) Message {
	return Message{
		ID:            generateULID(now),
		Text:          text,
		Type:          typ,
		Timestamp:     now,
		DeviceAddress: deviceAddress,
	}
}

// NewSystemMessage returns a system message stamped now.
func NewSystemMessage(text string) Message {
	return newMessage(text, TypeSystem, "", time.Now())
}

// NewSentMessage returns an outgoing message stamped now.
func NewSentMessage(text, deviceAddress string) Message {
	return newMessage(text, TypeSent, deviceAddress, time.Now())
}

// NewReceivedMessage returns an incoming message stamped now.
func NewReceivedMessage(text, deviceAddress string) Message {
	return newMessage(text, TypeReceived, deviceAddress, time.Now())
}

// ulidEntropy is shared so that IDs minted in the same millisecond still
// sort in creation order. It must only be used with ulidMu held.
var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

func generateULID(t time.Time) string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), ulidEntropy).String()
}

// FormattedTime renders the timestamp as HH:MM in local time.
func (m Message) FormattedTime() string {
	return m.Timestamp.Local().Format("15:04")
}

// FormattedDateTime renders the timestamp as DD/MM HH:MM in local time.
func (m Message) FormattedDateTime() string {
	return m.Timestamp.Local().Format("02/01 15:04")
}

// Preview returns the text cut to 50 characters, with an ellipsis when cut.
func (m Message) Preview() string {
	r := []rune(m.Text)
	if len(r) <= previewLimit {
		return m.Text
	}
	return string(r[:previewLimit-3]) + "..."
}

// IsToday reports whether the message was stamped on the current local day.
func (m Message) IsToday() bool {
	return sameDay(m.Timestamp, time.Now())
}

func sameDay(a, b time.Time) bool {
	a, b = a.Local(), b.Local()
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
