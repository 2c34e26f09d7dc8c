// ABOUTME: Bounded reconnect campaigns with a fixed delay between attempts.
// ABOUTME: One campaign per disconnected handle generation; newer disconnects supersede it.

package agent

import (
	"context"
	"strconv"

	"tailscale.com/tstime"

	"github.com/2389/botkeeper/internal/store"
)

// campaign is one bounded series of reconnect attempts. Guarded by Supervisor.mu.
type campaign struct {
	generation uint64 // handle generation whose disconnect started the campaign
	attempts   int
	max        int
	timer      tstime.TimerController
}

// ReconnectStatus reports the pending campaign, if any.
type ReconnectStatus struct {
	Active      bool
	Attempts    int
	MaxAttempts int
}

// newCampaignLocked installs a fresh campaign. Returns nil when reconnecting is disabled.
func (s *Supervisor) newCampaignLocked(generation uint64) *campaign {
	if s.reconnect.MaxAttempts <= 0 {
		return nil
	}
	c := &campaign{generation: generation, max: s.reconnect.MaxAttempts}
	s.campaign = c
	return c
}

// scheduleLocked arms the delay timer for the next attempt of c.
func (s *Supervisor) scheduleLocked(c *campaign) {
	if c.timer != nil {
		c.timer.Stop()
	}
	// The attempt reads the clock, so it must not run on the timer's own stack.
	c.timer = s.clock.AfterFunc(s.reconnect.Delay, func() {
		go s.attempt(c)
	})
}

// cancelCampaignLocked stops the pending timer and forgets the campaign.
func (s *Supervisor) cancelCampaignLocked() {
	c := s.campaign
	if c == nil {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	s.campaign = nil
}

// attempt runs one reconnect attempt if c is still the current campaign.
func (s *Supervisor) attempt(c *campaign) {
	s.mu.Lock()
	if s.campaign != c || s.handle != nil {
		s.mu.Unlock()
		return
	}
	c.timer = nil
	c.attempts++
	n, limit := c.attempts, c.max
	h := s.connectLocked(c)
	s.mu.Unlock()

	s.logger.Info("reconnect attempt", "attempt", n, "max_attempts", limit, "handle_id", h.ID)
	s.metrics.ReconnectAttempted()
	s.record(context.Background(), h, store.AgentEventReconnectAttempt, strconv.Itoa(n)+"/"+strconv.Itoa(limit))
}

func (s *Supervisor) reconnectStatusLocked() ReconnectStatus {
	st := ReconnectStatus{MaxAttempts: s.reconnect.MaxAttempts}
	if c := s.campaign; c != nil {
		st.Active = true
		st.Attempts = c.attempts
	}
	return st
}
