package events

import (
	"sync"

	"delphor/core/types"
)

// Event represents a structured state change committed by the node.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. the API, metrics).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Multi fans each event out to every emitter in order.
type Multi []Emitter

func (m Multi) Emit(evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(evt)
		}
	}
}

// DefaultLogCapacity bounds the in-memory event log.
const DefaultLogCapacity = 1024

// Log keeps the most recent events in a ring buffer.
type Log struct {
	mu     sync.RWMutex
	buf    []types.Event
	next   int
	filled bool
}

// NewLog returns a log holding up to capacity events.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Log{buf: make([]types.Event, capacity)}
}

// Emit implements Emitter.
func (l *Log) Emit(evt Event) {
	if l == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = *payload
	l.next++
	if l.next == len(l.buf) {
		l.next = 0
		l.filled = true
	}
}

// Recent returns up to limit events, newest first. A non-positive limit
// returns everything retained.
func (l *Log) Recent(limit int) []types.Event {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	size := l.next
	if l.filled {
		size = len(l.buf)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]types.Event, 0, limit)
	idx := l.next
	for len(out) < limit {
		idx--
		if idx < 0 {
			idx = len(l.buf) - 1
		}
		out = append(out, l.buf[idx])
	}
	return out
}
