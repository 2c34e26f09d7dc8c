// ABOUTME: In-package fakes for the game client capability used by supervisor tests.
// ABOUTME: fakeDialer hands out scriptable fakeSessions and counts dials.

package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"tailscale.com/tstest"

	"github.com/2389/botkeeper/internal/store"
)

var errDialRefused = errors.New("connection refused")

type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	err      error
	sessions []*fakeSession
}

func (d *fakeDialer) Dial(ctx context.Context, opts Options) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	sess := newFakeSession(opts)
	d.sessions = append(d.sessions, sess)
	return sess, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) sessionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *fakeDialer) session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[i]
}

// blockingDialer ignores ctx and fails only once release is closed.
type blockingDialer chan struct{}

func (d blockingDialer) Dial(ctx context.Context, opts Options) (Session, error) {
	<-d
	return nil, errDialRefused
}

type fakeSession struct {
	opts   Options
	events chan Event

	mu        sync.Mutex
	connected bool
	closed    bool
	position  *Position
	chats     []string
	goals     []Block
	navErr    error
}

func newFakeSession(opts Options) *fakeSession {
	return &fakeSession{
		opts:      opts,
		events:    make(chan Event, 16),
		connected: true,
	}
}

func (s *fakeSession) Events() <-chan Event { return s.events }

func (s *fakeSession) Chat(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = append(s.chats, text)
	return nil
}

func (s *fakeSession) Navigate(ctx context.Context, goal Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.navErr != nil {
		return s.navErr
	}
	s.goals = append(s.goals, goal)
	return nil
}

func (s *fakeSession) Position() (Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.position == nil {
		return Position{}, false
	}
	return *s.position, true
}

func (s *fakeSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.connected = false
	return nil
}

// emit delivers a lifecycle event, updating connectivity the way a real session would.
func (s *fakeSession) emit(ev Event) {
	s.mu.Lock()
	if ev.Type == EventSpawned {
		s.position = &Position{X: 10, Y: 64, Z: -3}
	}
	if ev.Terminal() {
		s.connected = false
	}
	s.mu.Unlock()
	s.events <- ev
}

func (s *fakeSession) setConnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = v
}

func (s *fakeSession) chatLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.chats...)
}

func (s *fakeSession) goalLog() []Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Block(nil), s.goals...)
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// testHarness wires a Supervisor to fakes and simulated time.
type testHarness struct {
	sup    *Supervisor
	dialer *fakeDialer
	clock  *tstest.Clock
	events *store.MockStore
}

var testBot = Options{Username: "RIDER420", Host: "mc.example.net", Port: 32289, Version: "1.12.1"}

const testGreeting = "Hello! I am back and ready to assist!"

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{
		dialer: &fakeDialer{},
		clock:  tstest.NewClock(tstest.ClockOpts{Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}),
		events: store.NewMockStore(),
	}
	h.sup = NewSupervisor(SupervisorConfig{
		Dialer:    h.dialer,
		Bot:       testBot,
		Greeting:  testGreeting,
		Reconnect: ReconnectPolicy{Delay: 5 * time.Second, MaxAttempts: 5},
		Movement:  MovementPolicy{Interval: 5 * time.Minute, Range: 500, Y: 64},
		Clock:     h.clock,
		Rand:      rand.New(rand.NewPCG(1, 2)),
		Recorder:  h.events,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	t.Cleanup(func() {
		_ = h.sup.Stop(context.Background())
	})
	return h
}

// countEvents returns how many ledger events of typ were recorded.
func (h *testHarness) countEvents(t *testing.T, typ store.AgentEventType) int {
	t.Helper()
	events, err := h.events.ListAgentEvents(context.Background(), store.ListEventsParams{Type: typ, Limit: 500})
	require.NoError(t, err)
	return len(events)
}

// waitSession waits for the i-th successful dial and returns its session.
func (h *testHarness) waitSession(t *testing.T, i int) *fakeSession {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.dialer.sessionCount() > i
	}, time.Second, time.Millisecond)
	return h.dialer.session(i)
}

// waitSpawned waits until the supervisor has processed the spawn.
func (h *testHarness) waitSpawned(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.sup.Status().Spawned
	}, time.Second, time.Millisecond)
}

// waitScheduled waits until n reconnect timers have been armed.
func (h *testHarness) waitScheduled(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.countEvents(t, store.AgentEventReconnectScheduled) == n
	}, time.Second, time.Millisecond)
}
