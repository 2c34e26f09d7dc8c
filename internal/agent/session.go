// ABOUTME: Capability contract for the external game client that the supervisor drives.
// ABOUTME: Defines Dialer, Session, lifecycle events, and coordinate types.

package agent

import (
	"context"
	"fmt"
)

// Options is the fixed connection configuration for one agent session.
type Options struct {
	Username string
	Host     string
	Port     int
	Version  string
}

// Addr returns host:port for logging.
func (o Options) Addr() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// EventType identifies a lifecycle notification from a session.
type EventType string

const (
	EventSpawned EventType = "spawned"
	EventEnded   EventType = "ended"
	EventKicked  EventType = "kicked"
	EventErrored EventType = "errored"
)

// Event is a lifecycle notification delivered on Session.Events.
type Event struct {
	Type   EventType
	Reason string // kicked and ended
	Err    error  // errored
}

// Terminal reports whether the event ends the session.
func (e Event) Terminal() bool {
	return e.Type == EventEnded || e.Type == EventKicked || e.Type == EventErrored
}

// Position is the agent's last reported location in the world.
type Position struct {
	X, Y, Z float64
}

// Block is an integer world coordinate used as a navigation goal.
type Block struct {
	X, Y, Z int
}

func (b Block) String() string {
	return fmt.Sprintf("(%d, %d, %d)", b.X, b.Y, b.Z)
}

// Dialer opens sessions with the external game client.
type Dialer interface {
	Dial(ctx context.Context, opts Options) (Session, error)
}

// Session is one live connection to the game world.
//
// Events must be closed by the implementation once no further events will be
// delivered. Close performs a graceful disconnect and is safe to call more
// than once.
type Session interface {
	Events() <-chan Event
	Chat(ctx context.Context, text string) error
	Navigate(ctx context.Context, goal Block) error
	Position() (Position, bool)
	Connected() bool
	Close() error
}
