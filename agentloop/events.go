package agentloop

import (
	"sync"
	"time"
)

// EventKind identifies a loop event.
type EventKind string

const (
	EventRunStart       EventKind = "run_start"
	EventIterationStart EventKind = "iteration_start"
	EventThought        EventKind = "thought"
	EventToolCallStart  EventKind = "tool_call_start"
	EventToolCallEnd    EventKind = "tool_call_end"
	EventRepeatDetected EventKind = "repeat_detected"
	EventRelevanceGate  EventKind = "relevance_gate"
	EventProviderSwitch EventKind = "provider_switch"
	EventSynthesis      EventKind = "synthesis"
	EventRunEnd         EventKind = "run_end"
)

// LoopEvent is one entry in the observation stream of a run.
type LoopEvent struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Iteration int            `json:"iteration"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventSink receives loop events. Implementations must not block.
type EventSink interface {
	Emit(LoopEvent)
}

// EventEmitter delivers events on a buffered channel. When the buffer is
// full the event is dropped so a slow reader never stalls the loop.
type EventEmitter struct {
	ch      chan LoopEvent
	closed  bool
	dropped int
	mu      sync.Mutex
}

// NewEventEmitter creates an emitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{ch: make(chan LoopEvent, bufferSize)}
}

// Emit implements EventSink.
func (e *EventEmitter) Emit(ev LoopEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- ev:
	default:
		e.dropped++
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan LoopEvent {
	return e.ch
}

// Dropped returns how many events were discarded because the buffer was full.
func (e *EventEmitter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close closes the channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}

// EventFunc adapts a function to EventSink.
type EventFunc func(LoopEvent)

// Emit implements EventSink.
func (f EventFunc) Emit(ev LoopEvent) { f(ev) }

type noopSink struct{}

func (noopSink) Emit(LoopEvent) {}
