package events

import "swaplock/core/types"

// Event represents a structured state change emitted by the engine.
type Event interface {
	EventType() string
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

// Recorder collects emitted events in order. The engine tests use it to
// capture events.
type Recorder struct {
	Events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(ev Event) {
	if r == nil || ev == nil {
		return
	}
	r.Events = append(r.Events, ev)
}

// Payloads returns the rendered payloads for every recorded event that can
// render one.
func (r *Recorder) Payloads() []*types.Event {
	if r == nil {
		return nil
	}
	out := make([]*types.Event, 0, len(r.Events))
	for _, ev := range r.Events {
		if p, ok := ev.(interface{ Event() *types.Event }); ok {
			out = append(out, p.Event())
		}
	}
	return out
}
