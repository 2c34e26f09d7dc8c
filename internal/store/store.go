// ABOUTME: Store interface and data types for botkeeper persistence
// ABOUTME: Defines the AgentEvent ledger row and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// AgentEventType categorizes a lifecycle transition of the agent
type AgentEventType string

const (
	AgentEventStart              AgentEventType = "start"
	AgentEventStop               AgentEventType = "stop"
	AgentEventConnecting         AgentEventType = "connecting"
	AgentEventSpawned            AgentEventType = "spawned"
	AgentEventEnded              AgentEventType = "ended"
	AgentEventKicked             AgentEventType = "kicked"
	AgentEventErrored            AgentEventType = "errored"
	AgentEventReconnectScheduled AgentEventType = "reconnect_scheduled"
	AgentEventReconnectAttempt   AgentEventType = "reconnect_attempt"
	AgentEventReconnectExhausted AgentEventType = "reconnect_exhausted"
	AgentEventMoved              AgentEventType = "moved"
)

// AgentEvent is one row of the lifecycle ledger
type AgentEvent struct {
	ID         string
	HandleID   string
	Generation uint64
	Type       AgentEventType
	Detail     string // reason, error text, goal coordinates, or address
	CreatedAt  time.Time
}

// NewAgentEvent builds an AgentEvent with a fresh ID.
func NewAgentEvent(handleID string, generation uint64, typ AgentEventType, detail string, at time.Time) *AgentEvent {
	return &AgentEvent{
		ID:         uuid.New().String(),
		HandleID:   handleID,
		Generation: generation,
		Type:       typ,
		Detail:     detail,
		CreatedAt:  at.UTC(),
	}
}

// ListEventsParams filters ListAgentEvents.
type ListEventsParams struct {
	HandleID string         // Optional: only events for this handle
	Type     AgentEventType // Optional: only events of this type
	Limit    int            // 1-500, defaults to 50
}

// normalize clamps Limit into range.
func (p *ListEventsParams) normalize() {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 500 {
		p.Limit = 500
	}
}

// Store defines the interface for botkeeper persistence
type Store interface {
	// SaveAgentEvent appends an event to the ledger
	SaveAgentEvent(ctx context.Context, event *AgentEvent) error

	// GetAgentEvent retrieves one event by ID, or ErrNotFound
	GetAgentEvent(ctx context.Context, id string) (*AgentEvent, error)

	// ListAgentEvents returns events newest first
	ListAgentEvents(ctx context.Context, params ListEventsParams) ([]*AgentEvent, error)

	// Close closes the store
	Close() error
}
