// ABOUTME: Periodic random wander for a spawned agent.
// ABOUTME: The ticker lives as long as the handle's context.

package agent

import (
	"context"
	"fmt"
	"time"

	"tailscale.com/tstime"

	"github.com/2389/botkeeper/internal/store"
)

// wander issues a random navigation goal on every tick until h is cancelled.
func (s *Supervisor) wander(h *Handle, sess Session, ticker tstime.TickerController, tickC <-chan time.Time) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-tickC:
			s.moveRandomly(h, sess)
		}
	}
}

// randomGoal picks x and z uniformly in [-Range, Range) at the configured height.
func (s *Supervisor) randomGoal() Block {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	r := s.movement.Range
	return Block{
		X: s.rng.IntN(2*r) - r,
		Y: s.movement.Y,
		Z: s.rng.IntN(2*r) - r,
	}
}

// moveRandomly is a single movement tick. It does nothing unless the session is
// connected and has reported a position.
func (s *Supervisor) moveRandomly(h *Handle, sess Session) {
	if !sess.Connected() {
		return
	}
	if _, ok := sess.Position(); !ok {
		return
	}

	goal := s.randomGoal()
	if err := sess.Navigate(h.ctx, goal); err != nil {
		s.logger.Debug("navigation failed", "handle_id", h.ID, "goal", goal.String(), "error", err)
		return
	}
	if err := sess.Chat(h.ctx, fmt.Sprintf("Running to location %s...", goal)); err != nil {
		s.logger.Debug("movement announcement failed", "handle_id", h.ID, "error", err)
	}

	s.metrics.Moved()
	s.record(context.Background(), h, store.AgentEventMoved, goal.String())
}
