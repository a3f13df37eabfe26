package agent

import (
	"sync"
	"time"
)

// EventType identifies a loop transition
type EventType string

const (
	EventThinking    EventType = "thinking"
	EventToolCall    EventType = "tool_call"
	EventToolResult  EventType = "tool_result"
	EventFinalAnswer EventType = "final_answer"
	EventDone        EventType = "done"
	EventError       EventType = "error"
)

// DefaultEventBuffer is the emitter capacity when none is given
const DefaultEventBuffer = 64

// Event is one progress notification of a run
type Event struct {
	Type       EventType              `json:"type"`
	SessionID  string                 `json:"sessionId"`
	Iteration  int                    `json:"iteration,omitempty"`
	Content    string                 `json:"content,omitempty"`
	ToolName   string                 `json:"toolName,omitempty"`
	ToolArgs   map[string]interface{} `json:"toolArgs,omitempty"`
	ToolResult string                 `json:"toolResult,omitempty"`
	Success    *bool                  `json:"success,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// EventEmitter delivers run events through a bounded channel. Emit never
// blocks: events are dropped when the buffer is full or after Close.
type EventEmitter struct {
	sessionID string
	ch        chan Event
	closed    bool
	dropped   int
	mu        sync.Mutex
}

// NewEventEmitter creates an emitter for sessionID
func NewEventEmitter(sessionID string, bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = DefaultEventBuffer
	}
	return &EventEmitter{
		sessionID: sessionID,
		ch:        make(chan Event, bufferSize),
	}
}

// Emit stamps and queues ev
func (e *EventEmitter) Emit(ev Event) {
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	ev.SessionID = e.sessionID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	select {
	case e.ch <- ev:
	default:
		e.dropped++
	}
}

// Events returns the read side of the stream
func (e *EventEmitter) Events() <-chan Event {
	return e.ch
}

// Dropped reports how many events did not fit in the buffer
func (e *EventEmitter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close ends the stream. Safe to call multiple times.
func (e *EventEmitter) Close() {
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
