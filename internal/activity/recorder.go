package activity

import (
	"sync"
	"time"
)

// Recorder is a synchronous Publisher that keeps every event in order.
// It is meant for tests and for callers that need to inspect what an
// operation emitted.
type Recorder struct {
	mu     sync.Mutex
	events []*Event
}

// Publish records the event.
func (r *Recorder) Publish(eventType string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, &Event{Type: eventType, Data: data, Timestamp: time.Now().UTC()})
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// OfType returns the recorded events of one type.
func (r *Recorder) OfType(eventType string) []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
