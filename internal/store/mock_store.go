// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	events []*AgentEvent // in insertion order
	err    error         // returned by SaveAgentEvent when set
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// FailWrites makes subsequent SaveAgentEvent calls return err. Pass nil to reset.
func (m *MockStore) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SaveAgentEvent appends a copy of the event.
func (m *MockStore) SaveAgentEvent(ctx context.Context, event *AgentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	if event.ID == "" {
		return errors.New("event ID required")
	}

	e := *event
	m.events = append(m.events, &e)
	return nil
}

// GetAgentEvent retrieves an event by ID.
func (m *MockStore) GetAgentEvent(ctx context.Context, id string) (*AgentEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.events {
		if e.ID == id {
			out := *e
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// ListAgentEvents returns matching events newest first.
func (m *MockStore) ListAgentEvents(ctx context.Context, params ListEventsParams) ([]*AgentEvent, error) {
	params.normalize()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*AgentEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if params.HandleID != "" && e.HandleID != params.HandleID {
			continue
		}
		if params.Type != "" && e.Type != params.Type {
			continue
		}
		out := *e
		result = append(result, &out)
	}

	// Stable keeps insertion order among equal timestamps
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if len(result) > params.Limit {
		result = result[:params.Limit]
	}
	return result, nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}
