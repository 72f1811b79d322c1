package sandbox

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one audit record, emitted with the stable schema spec.md §7
// requires: {type, sessionId, timestamp, ...}.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// historySize bounds the in-memory audit ring buffer per sandbox
// (SPEC_FULL's "audit event replay" supplement).
const historySize = 500

// History is a bounded ring buffer of the most recent audit events for
// one sandbox, queryable via getHistory/clearHistory (spec.md §6) and
// over RPC as shell.history.{list,clear}.
type History struct {
	mu     sync.Mutex
	events []Event
}

func newHistory() *History {
	return &History{events: make([]Event, 0, historySize)}
}

func (h *History) push(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
	if len(h.events) > historySize {
		h.events = h.events[len(h.events)-historySize:]
	}
}

// List returns a copy of the buffered events, oldest first.
func (h *History) List() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, len(h.events))
	copy(out, h.events)
	return out
}

// Clear empties the buffer.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = h.events[:0]
}

func newSessionID() string {
	return uuid.NewString()
}
