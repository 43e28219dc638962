// Package scout reacts to competitor status signals. An Operational to
// Critical transition promotes every lead running on the competitor to
// Strike and drafts outreach for each of them.
package scout

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// State is the last known status of a competitor.
type State string

const (
	Operational State = "Operational"
	Critical    State = "Critical"
)

// NormalizeStatus maps a raw status string onto the two-state machine.
// Anything that is not a critical status counts as Operational.
func NormalizeStatus(status string) State {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "critical_outage", "critical":
		return Critical
	default:
		return Operational
	}
}

// StateStore remembers the last state seen per competitor. Swap must be
// atomic: of two concurrent swaps to the same state, exactly one observes
// the old value.
type StateStore interface {
	Swap(ctx context.Context, competitor string, next State) (State, error)
	Snapshot(ctx context.Context) (map[string]State, error)
	CriticalCompetitors(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}

func stateKey(competitor string) string {
	return strings.ToLower(strings.TrimSpace(competitor))
}

func parseState(s string) State {
	if State(s) == Critical {
		return Critical
	}
	return Operational
}

// MemoryStateStore keeps competitor state in process memory.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]State
}

// NewMemoryStateStore returns an empty store in which every competitor
// starts Operational.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]State)}
}

func (m *MemoryStateStore) Swap(ctx context.Context, competitor string, next State) (State, error) {
	key := stateKey(competitor)
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.states[key]
	if !ok {
		prev = Operational
	}
	m.states[key] = next
	return prev, nil
}

func (m *MemoryStateStore) Snapshot(ctx context.Context) (map[string]State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStateStore) CriticalCompetitors(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k, v := range m.states {
		if v == Critical {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStateStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.states = make(map[string]State)
	m.mu.Unlock()
	return nil
}
