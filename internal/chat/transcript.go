package chat

import (
	"fmt"
	"sync"
)

// Transcript is an append-only, concurrency-safe message log.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Add appends msg.
func (t *Transcript) Add(msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msg)
}

// Messages returns a copy of the log in append order.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Count returns the number of messages of one type.
func (t *Transcript) Count(typ Type) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, m := range t.messages {
		if m.Type == typ {
			n++
		}
	}
	return n
}

// Stats summarizes the message counts, e.g. "Sent: 3 | Received: 2 | System: 4".
func (t *Transcript) Stats() string {
	return fmt.Sprintf("Sent: %d | Received: %d | System: %d",
		t.Count(TypeSent), t.Count(TypeReceived), t.Count(TypeSystem))
}

// Duration is the time from the first to the last message in whole minutes,
// e.g. "12m", or "< 1m" for an empty transcript.
func (t *Transcript) Duration() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.messages) == 0 {
		return "< 1m"
	}
	d := t.messages[len(t.messages)-1].Timestamp.Sub(t.messages[0].Timestamp)
	return fmt.Sprintf("%dm", int(d.Minutes()))
}

// Clear drops every message.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
}
