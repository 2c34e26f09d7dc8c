// ABOUTME: Websocket client implementing agent.Dialer and agent.Session against a driver.
// ABOUTME: A read loop turns driver messages into lifecycle events and tracks position.

package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/botkeeper/internal/agent"
)

// ErrNotConnected is returned by commands issued after the session ended.
var ErrNotConnected = errors.New("session not connected")

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 10 * time.Second
	eventBuffer             = 16
)

// DialerConfig configures a Dialer.
type DialerConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	Header           http.Header // extra handshake headers, e.g. Authorization
	Logger           *slog.Logger
}

// Dialer opens driver sessions over websocket.
type Dialer struct {
	url    string
	header http.Header
	ws     websocket.Dialer
	logger *slog.Logger
}

// NewDialer creates a Dialer for the driver at cfg.URL.
func NewDialer(cfg DialerConfig) *Dialer {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		url:    cfg.URL,
		header: cfg.Header,
		ws: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
		logger: logger.With("component", "driver"),
	}
}

// Dial connects to the driver and asks it to join the server in opts.
// The returned session reports the join outcome on its Events channel.
func (d *Dialer) Dial(ctx context.Context, opts agent.Options) (agent.Session, error) {
	conn, _, err := d.ws.DialContext(ctx, d.url, d.header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to driver: %w", err)
	}

	s := &Session{
		conn:      conn,
		opts:      opts,
		logger:    d.logger.With("username", opts.Username),
		events:    make(chan agent.Event, eventBuffer),
		done:      make(chan struct{}),
		connected: true,
	}

	if err := s.send(ctx, TypeConnect, ConnectPayload{
		Username: opts.Username,
		Host:     opts.Host,
		Port:     opts.Port,
		Version:  opts.Version,
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send connect: %w", err)
	}

	go s.readLoop()
	return s, nil
}

// Session is one driver connection.
type Session struct {
	conn   *websocket.Conn
	opts   agent.Options
	logger *slog.Logger
	events chan agent.Event
	done   chan struct{}

	writeMu sync.Mutex

	mu        sync.Mutex
	connected bool
	closing   bool
	position  *agent.Position

	closeOnce sync.Once
	closeErr  error
}

var _ agent.Session = (*Session)(nil)

// Events returns lifecycle events. The channel is closed when the read loop exits.
func (s *Session) Events() <-chan agent.Event {
	return s.events
}

// Position returns the last position reported by the driver.
func (s *Session) Position() (agent.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.position == nil {
		return agent.Position{}, false
	}
	return *s.position, true
}

// Connected reports whether the session can accept commands.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Chat sends a public chat line.
func (s *Session) Chat(ctx context.Context, text string) error {
	if !s.Connected() {
		return ErrNotConnected
	}
	return s.send(ctx, TypeChat, ChatPayload{Text: text})
}

// Navigate sets a pathfinding goal using the movement rules of the session's version.
func (s *Session) Navigate(ctx context.Context, goal agent.Block) error {
	if !s.Connected() {
		return ErrNotConnected
	}
	return s.send(ctx, TypeNavigate, NavigatePayload{
		X:         goal.X,
		Y:         goal.Y,
		Z:         goal.Z,
		Movements: s.opts.Version,
	})
}

// Close asks the driver to disconnect and closes the socket. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		wasConnected := s.connected
		s.connected = false
		s.closing = true
		s.mu.Unlock()

		if wasConnected {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			if err := s.send(ctx, TypeDisconnect, nil); err != nil {
				s.closeErr = fmt.Errorf("failed to send disconnect: %w", err)
			}
			cancel()

			s.writeMu.Lock()
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			s.writeMu.Unlock()
		}

		close(s.done)
		if err := s.conn.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}

// send writes one envelope. Writes are serialized; the deadline comes from ctx
// or writeTimeout, whichever is sooner.
func (s *Session) send(ctx context.Context, typ string, payload any) error {
	env, err := NewEnvelope(typ, payload)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := s.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write %s: %w", typ, err)
	}
	return nil
}

// readLoop consumes driver messages until a terminal message or a socket error.
func (s *Session) readLoop() {
	defer close(s.events)

	for {
		var env Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			s.mu.Lock()
			closing := s.closing
			s.connected = false
			s.mu.Unlock()

			if closing {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emit(agent.Event{Type: agent.EventEnded, Reason: "driver closed the connection"})
				return
			}
			s.emit(agent.Event{Type: agent.EventErrored, Err: err})
			return
		}

		ev, ok := s.handle(env)
		if !ok {
			continue
		}
		s.emit(ev)
		if ev.Terminal() {
			return
		}
	}
}

// handle applies env to session state and returns the lifecycle event it carries, if any.
func (s *Session) handle(env Envelope) (agent.Event, bool) {
	switch env.Type {
	case TypeSpawned, TypePosition:
		var p PositionPayload
		if err := env.Decode(&p); err != nil {
			s.logger.Warn("bad position payload", "error", err)
			return agent.Event{}, false
		}
		s.mu.Lock()
		s.position = &agent.Position{X: p.X, Y: p.Y, Z: p.Z}
		s.mu.Unlock()
		if env.Type == TypeSpawned {
			return agent.Event{Type: agent.EventSpawned}, true
		}
		return agent.Event{}, false

	case TypeEnded, TypeKicked:
		var r ReasonPayload
		if err := env.Decode(&r); err != nil {
			s.logger.Warn("bad reason payload", "type", env.Type, "error", err)
		}
		s.markDisconnected()
		if env.Type == TypeKicked {
			return agent.Event{Type: agent.EventKicked, Reason: r.Reason}, true
		}
		return agent.Event{Type: agent.EventEnded, Reason: r.Reason}, true

	case TypeError:
		var e ErrorPayload
		if err := env.Decode(&e); err != nil {
			s.logger.Warn("bad error payload", "error", err)
		}
		s.markDisconnected()
		return agent.Event{Type: agent.EventErrored, Err: fmt.Errorf("driver: %s", e.Message)}, true

	default:
		s.logger.Debug("ignoring driver message", "type", env.Type)
		return agent.Event{}, false
	}
}

func (s *Session) markDisconnected() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

// emit delivers ev unless the session has been closed.
func (s *Session) emit(ev agent.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}
