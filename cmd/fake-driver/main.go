// ABOUTME: Minimal fake game client driver for E2E testing: speaks the driver websocket protocol.
// ABOUTME: Usage: fake-driver [-addr localhost:3001] [-spawn-delay 500ms] [-kick-after 0] [-refuse]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/botkeeper/internal/driver"
)

// spawnPoint is where every fake session appears.
var spawnPoint = driver.PositionPayload{X: 0, Y: 64, Z: 0}

type options struct {
	spawnDelay time.Duration
	kickAfter  time.Duration
	kickReason string
	refuse     bool
}

// fakeDriver accepts sessions and scripts a game world for each.
type fakeDriver struct {
	opts     options
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func newFakeDriver(opts options, logger *slog.Logger) *fakeDriver {
	return &fakeDriver{
		opts:     opts,
		upgrader: websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }},
		logger:   logger,
	}
}

func main() {
	addr := flag.String("addr", "localhost:3001", "listen address")
	path := flag.String("path", "/session", "websocket path")
	spawnDelay := flag.Duration("spawn-delay", 500*time.Millisecond, "delay between connect and spawned")
	kickAfter := flag.Duration("kick-after", 0, "kick every session after this long (0 = never)")
	kickReason := flag.String("kick-reason", "You have been kicked by the fake driver", "reason sent with kicked")
	refuse := flag.Bool("refuse", false, "answer every connect with an error")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	d := newFakeDriver(options{
		spawnDelay: *spawnDelay,
		kickAfter:  *kickAfter,
		kickReason: *kickReason,
		refuse:     *refuse,
	}, logger)

	if err := run(*addr, *path, d); err != nil {
		logger.Error("fake driver failed", "error", err)
		os.Exit(1)
	}
}

func run(addr, path string, d *fakeDriver) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	mux := http.NewServeMux()
	mux.Handle(path, d)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("fake driver listening", "addr", addr, "path", path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// conn serializes writes to one websocket.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(typ string, payload any) error {
	env, err := driver.NewEnvelope(typ, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(env)
}

func (d *fakeDriver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Warn("upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	c := &conn{ws: ws}

	var hello driver.Envelope
	if err := ws.ReadJSON(&hello); err != nil {
		d.logger.Warn("read connect failed", "error", err)
		return
	}
	var target driver.ConnectPayload
	if hello.Type != driver.TypeConnect || hello.Decode(&target) != nil {
		_ = c.send(driver.TypeError, driver.ErrorPayload{Message: "expected connect, got " + hello.Type})
		return
	}

	logger := d.logger.With("username", target.Username, "server", fmt.Sprintf("%s:%d", target.Host, target.Port))
	logger.Info("session connected", "version", target.Version)

	if d.opts.refuse {
		_ = c.send(driver.TypeError, driver.ErrorPayload{Message: "connect ECONNREFUSED " + fmt.Sprintf("%s:%d", target.Host, target.Port)})
		return
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-time.After(d.opts.spawnDelay):
			if err := c.send(driver.TypeSpawned, spawnPoint); err == nil {
				logger.Info("spawned")
			}
		case <-done:
		}
	}()

	if d.opts.kickAfter > 0 {
		go func() {
			select {
			case <-time.After(d.opts.kickAfter):
				logger.Info("kicking session", "reason", d.opts.kickReason)
				_ = c.send(driver.TypeKicked, driver.ReasonPayload{Reason: d.opts.kickReason})
				c.mu.Lock()
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				c.mu.Unlock()
			case <-done:
			}
		}()
	}

	for {
		var env driver.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			logger.Info("session closed", "error", err)
			return
		}

		switch env.Type {
		case driver.TypeChat:
			var p driver.ChatPayload
			if err := env.Decode(&p); err == nil {
				logger.Info("chat", "text", p.Text)
			}
		case driver.TypeNavigate:
			var p driver.NavigatePayload
			if err := env.Decode(&p); err != nil {
				_ = c.send(driver.TypeError, driver.ErrorPayload{Message: err.Error()})
				continue
			}
			logger.Info("navigating", "x", p.X, "y", p.Y, "z", p.Z, "movements", p.Movements)
			_ = c.send(driver.TypePosition, driver.PositionPayload{X: float64(p.X), Y: float64(p.Y), Z: float64(p.Z)})
		case driver.TypeDisconnect:
			logger.Info("disconnect requested")
			_ = c.send(driver.TypeEnded, driver.ReasonPayload{Reason: "disconnect.quitting"})
			return
		default:
			logger.Warn("unknown message type", "type", env.Type)
		}
	}
}
