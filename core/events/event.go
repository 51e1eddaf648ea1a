package events

import (
	"sync"

	"womnet/core/types"
)

// Event represents a structured state change emitted by a reconciliation
// engine.
type Event interface {
	EventType() string
}

// Payloader is implemented by events that can render a flat wire payload.
type Payloader interface {
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (REST stream, sweeps,
// indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Bus is an injected in-process fan-out. It is a plain collaborator handed to
// engines by construction, never process-global state, so the reconciliation
// core stays testable.
type Bus struct {
	mu   sync.RWMutex
	subs []func(Event)
}

// NewBus constructs an empty bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe registers fn for every subsequently emitted event. Subscribers
// run synchronously on the emitting goroutine and must not block.
func (b *Bus) Subscribe(fn func(Event)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.subs = append(b.subs, fn)
	b.mu.Unlock()
}

// Emit implements the Emitter interface.
func (b *Bus) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.RLock()
	subs := make([]func(Event), len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(evt)
	}
}
