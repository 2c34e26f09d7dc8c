// ABOUTME: Supervisor owns the single agent handle and reacts to its lifecycle events.
// ABOUTME: Start/Stop/Status back the control API; disconnects feed the reconnect campaign.

package agent

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"tailscale.com/tstime"

	"github.com/2389/botkeeper/internal/metrics"
	"github.com/2389/botkeeper/internal/store"
)

// Defaults applied when a SupervisorConfig leaves a policy field zero.
const (
	DefaultReconnectDelay   = 5 * time.Second
	DefaultMaxAttempts      = 5
	DefaultMovementInterval = 5 * time.Minute
	DefaultMovementRange    = 500
	DefaultMovementY        = 64
)

// Recorder persists lifecycle events. store.SQLiteStore and store.MockStore implement it.
type Recorder interface {
	SaveAgentEvent(ctx context.Context, event *store.AgentEvent) error
}

// ReconnectPolicy bounds a reconnect campaign.
type ReconnectPolicy struct {
	Delay       time.Duration
	MaxAttempts int // zero disables reconnecting
}

// MovementPolicy configures the random wander.
type MovementPolicy struct {
	Interval time.Duration
	Range    int // x and z are drawn from [-Range, Range)
	Y        int
}

// SupervisorConfig holds the dependencies of a Supervisor.
type SupervisorConfig struct {
	Dialer    Dialer
	Bot       Options
	Greeting  string
	Reconnect ReconnectPolicy
	Movement  MovementPolicy

	Clock    tstime.Clock     // defaults to tstime.StdClock
	Rand     *rand.Rand       // defaults to a time-seeded PCG
	Recorder Recorder         // optional
	Metrics  *metrics.Metrics // optional
	Logger   *slog.Logger
}

// Status is the read-only view of the supervisor returned by Status.
type Status struct {
	Running    bool
	Spawned    bool
	HandleID   string
	Generation uint64
	BotName    string
	Host       string
	Port       int
	Reconnect  ReconnectStatus
}

// Supervisor manages the lifecycle of at most one agent handle.
type Supervisor struct {
	dialer    Dialer
	bot       Options
	greeting  string
	reconnect ReconnectPolicy
	movement  MovementPolicy
	clock     tstime.Clock
	recorder  Recorder
	metrics   *metrics.Metrics
	logger    *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	wg sync.WaitGroup // run and wander goroutines

	mu         sync.Mutex
	handle     *Handle
	generation uint64
	campaign   *campaign
}

// NewSupervisor creates a Supervisor. No agent is started.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Clock == nil {
		cfg.Clock = tstime.StdClock{}
	}
	if cfg.Rand == nil {
		seed := uint64(time.Now().UnixNano())
		cfg.Rand = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Reconnect.Delay <= 0 {
		cfg.Reconnect.Delay = DefaultReconnectDelay
	}
	if cfg.Movement.Interval <= 0 {
		cfg.Movement.Interval = DefaultMovementInterval
	}
	if cfg.Movement.Range <= 0 {
		cfg.Movement.Range = DefaultMovementRange
	}

	return &Supervisor{
		dialer:    cfg.Dialer,
		bot:       cfg.Bot,
		greeting:  cfg.Greeting,
		reconnect: cfg.Reconnect,
		movement:  cfg.Movement,
		clock:     cfg.Clock,
		recorder:  cfg.Recorder,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		rng:       cfg.Rand,
	}
}

// Start creates a new handle and begins connecting in the background.
// Returns ErrAlreadyRunning if a handle exists. A pending reconnect campaign
// is cancelled, since the manual start supersedes it.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.handle != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.cancelCampaignLocked()
	h := s.connectLocked(nil)
	s.mu.Unlock()

	s.metrics.AgentStarted()
	s.record(ctx, h, store.AgentEventStart, h.Options.Addr())
	return nil
}

// Stop disconnects the current handle and clears it without waiting for the
// session's own end notification. Returns ErrNotRunning if there is no handle.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	h := s.handle
	if h == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.handle = nil
	h.cancel()
	s.cancelCampaignLocked()
	sess := h.session
	s.mu.Unlock()

	s.metrics.SetRunning(false)
	if sess != nil {
		if err := sess.Close(); err != nil {
			s.logger.Warn("graceful disconnect failed", "handle_id", h.ID, "error", err)
		}
	}

	s.logger.Info("bot stopped", "handle_id", h.ID, "generation", h.Generation)
	s.record(ctx, h, store.AgentEventStop, "")
	return nil
}

// Status returns a snapshot of the current handle and reconnect campaign.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Reconnect: s.reconnectStatusLocked()}
	if h := s.handle; h != nil {
		st.Running = true
		st.Spawned = h.spawned
		st.HandleID = h.ID
		st.Generation = h.Generation
		st.BotName = h.Options.Username
		st.Host = h.Options.Host
		st.Port = h.Options.Port
	}
	return st
}

// connectLocked installs a new handle and starts its event loop. Must be called with mu held.
func (s *Supervisor) connectLocked(c *campaign) *Handle {
	s.generation++
	h := newHandle(s.generation, s.bot, c)
	s.handle = h
	s.metrics.SetRunning(true)

	s.wg.Add(1)
	go s.run(h)
	return h
}

// Wait blocks until every goroutine started for past handles has returned,
// or ctx is done. Call it after Stop, before closing the Recorder.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run dials the session for h and consumes its lifecycle events in order.
func (s *Supervisor) run(h *Handle) {
	defer s.wg.Done()

	s.logger.Info("attempting to connect",
		"handle_id", h.ID,
		"generation", h.Generation,
		"username", h.Options.Username,
		"addr", h.Options.Addr(),
	)
	s.record(context.Background(), h, store.AgentEventConnecting, h.Options.Addr())

	sess, err := s.dialer.Dial(h.ctx, h.Options)
	if err != nil {
		if h.ctx.Err() != nil {
			return
		}
		s.disconnected(h, nil, Event{Type: EventErrored, Err: &ConnectionError{Err: err}})
		return
	}

	s.mu.Lock()
	if s.handle != h {
		s.mu.Unlock()
		_ = sess.Close()
		return
	}
	h.session = sess
	s.mu.Unlock()

	events := sess.Events()
	for {
		select {
		case <-h.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.disconnected(h, sess, Event{Type: EventEnded, Reason: "session closed"})
				return
			}
			switch {
			case ev.Type == EventSpawned:
				s.spawned(h, sess)
			case ev.Terminal():
				s.disconnected(h, sess, ev)
				return
			}
		}
	}
}

// spawned marks h live, ends the campaign that produced it, greets, and starts wandering.
func (s *Supervisor) spawned(h *Handle, sess Session) {
	s.mu.Lock()
	if s.handle != h || h.spawned {
		s.mu.Unlock()
		return
	}
	h.spawned = true
	ticker, tickC := s.clock.NewTicker(s.movement.Interval)
	attempts := 0
	if c := h.campaign; c != nil {
		attempts = c.attempts
		if s.campaign == c {
			s.campaign = nil
		}
		h.campaign = nil
	}
	s.mu.Unlock()

	s.logger.Info("bot connected",
		"handle_id", h.ID,
		"username", h.Options.Username,
		"addr", h.Options.Addr(),
	)
	if attempts > 0 {
		s.logger.Info("reconnect campaign succeeded", "attempts", attempts)
	}
	s.record(context.Background(), h, store.AgentEventSpawned, "")

	if s.greeting != "" {
		if err := sess.Chat(h.ctx, s.greeting); err != nil {
			s.logger.Warn("greeting failed", "handle_id", h.ID, "error", err)
		}
	}

	s.wg.Add(1)
	go s.wander(h, sess, ticker, tickC)
}

// disconnected clears h (if still current) and starts or continues a reconnect
// campaign. Signals for a handle that is no longer current are ignored, which
// keeps repeated disconnect notifications from starting extra campaigns.
func (s *Supervisor) disconnected(h *Handle, sess Session, ev Event) {
	s.mu.Lock()
	if s.handle != h {
		s.mu.Unlock()
		return
	}
	s.handle = nil
	h.cancel()

	var (
		c         = h.campaign
		exhausted bool
		attempts  int
	)
	if c != nil && c == s.campaign {
		if c.attempts >= c.max {
			s.campaign = nil
			exhausted = true
		} else {
			s.scheduleLocked(c)
		}
	} else {
		s.cancelCampaignLocked()
		c = s.newCampaignLocked(h.Generation)
		if c != nil {
			s.scheduleLocked(c)
		}
	}
	if c != nil {
		attempts = c.attempts
	}
	s.mu.Unlock()

	s.metrics.SetRunning(false)
	s.metrics.AgentDisconnected(string(ev.Type))
	s.logDisconnect(h, ev)
	s.recordDisconnect(h, ev)

	if sess != nil {
		_ = sess.Close()
	}

	switch {
	case exhausted:
		s.logger.Warn("maximum reconnection attempts reached", "attempts", attempts)
		s.metrics.ReconnectExhausted()
		s.record(context.Background(), h, store.AgentEventReconnectExhausted, "")
	case c != nil:
		s.logger.Info("reconnecting", "delay", s.reconnect.Delay, "next_attempt", attempts+1, "max_attempts", s.reconnect.MaxAttempts)
		s.record(context.Background(), h, store.AgentEventReconnectScheduled, s.reconnect.Delay.String())
	default:
		s.logger.Info("reconnect disabled; bot stays offline")
	}
}

func (s *Supervisor) logDisconnect(h *Handle, ev Event) {
	attrs := []any{"handle_id", h.ID, "generation", h.Generation}
	switch ev.Type {
	case EventKicked:
		s.logger.Warn("kicked from the server", append(attrs, "reason", ev.Reason)...)
	case EventErrored:
		s.logger.Error("error encountered", append(attrs, "error", causeOf(ev))...)
	default:
		s.logger.Info("disconnected", append(attrs, "reason", ev.Reason)...)
	}
}

func (s *Supervisor) recordDisconnect(h *Handle, ev Event) {
	detail := ev.Reason
	if err := causeOf(ev); err != nil {
		detail = err.Error()
	}
	var typ store.AgentEventType
	switch ev.Type {
	case EventKicked:
		typ = store.AgentEventKicked
	case EventErrored:
		typ = store.AgentEventErrored
	default:
		typ = store.AgentEventEnded
	}
	s.record(context.Background(), h, typ, detail)
}

// record writes a ledger event. Failures are logged and otherwise ignored.
func (s *Supervisor) record(ctx context.Context, h *Handle, typ store.AgentEventType, detail string) {
	if s.recorder == nil {
		return
	}
	ev := store.NewAgentEvent(h.ID, h.Generation, typ, detail, s.clock.Now())
	if err := s.recorder.SaveAgentEvent(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Warn("failed to record agent event", "type", typ, "error", err)
	}
}
