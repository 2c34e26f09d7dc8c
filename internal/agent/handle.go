// ABOUTME: Handle is the owned representation of one agent session generation.
// ABOUTME: Its context bounds every goroutine and timer working on its behalf.

package agent

import (
	"context"

	"github.com/google/uuid"
)

// Handle is one live (or connecting) agent. The Supervisor owns at most one.
// Fields other than the identity are guarded by the Supervisor's mutex.
type Handle struct {
	ID         string
	Generation uint64
	Options    Options

	ctx    context.Context
	cancel context.CancelFunc

	session  Session
	spawned  bool
	campaign *campaign // set when a reconnect attempt created this handle
}

func newHandle(generation uint64, opts Options, c *campaign) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handle{
		ID:         uuid.New().String(),
		Generation: generation,
		Options:    opts,
		ctx:        ctx,
		cancel:     cancel,
		campaign:   c,
	}
}
