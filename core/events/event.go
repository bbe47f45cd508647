package events

import "bondledger/core/types"

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
	// Event renders the change-log entry with string attributes.
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events in emission order. The executor hands a Buffer to the
// modules of an in-flight operation and only forwards its contents once the
// operation has committed.
type Buffer struct {
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(e Event) {
	if e == nil {
		return
	}
	b.events = append(b.events, e)
}

// Events returns the buffered events.
func (b *Buffer) Events() []Event {
	return append([]Event(nil), b.events...)
}

// Reset drops the buffered events.
func (b *Buffer) Reset() {
	b.events = nil
}

// Fanout forwards every event to each emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(e Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(e)
		}
	}
}
