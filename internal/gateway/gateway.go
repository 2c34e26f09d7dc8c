// ABOUTME: Gateway orchestrator that wires the supervisor, store, metrics, and HTTP server
// ABOUTME: Manages listeners (TCP or tailnet), autostart, and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"
	"tailscale.com/tstime"

	"github.com/2389/botkeeper/internal/agent"
	"github.com/2389/botkeeper/internal/auth"
	"github.com/2389/botkeeper/internal/config"
	"github.com/2389/botkeeper/internal/driver"
	"github.com/2389/botkeeper/internal/metrics"
	"github.com/2389/botkeeper/internal/store"
)

// Gateway orchestrates the botkeeper server components.
// It owns the agent supervisor and the HTTP server for the control API.
type Gateway struct {
	config      *config.Config
	supervisor  *agent.Supervisor
	store       store.Store
	metrics     *metrics.Metrics
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// Option customizes how New builds the gateway.
type Option func(*options)

type options struct {
	dialer agent.Dialer
	clock  tstime.Clock
}

// WithDialer replaces the websocket driver dialer, mainly for tests.
func WithDialer(d agent.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithClock replaces the wall clock used by the supervisor's timers.
func WithClock(c tstime.Clock) Option {
	return func(o *options) { o.clock = c }
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("BOTKEEPER_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newSupervisor builds the agent supervisor from the bot, reconnect, and movement sections.
func newSupervisor(cfg *config.Config, o *options, s store.Store, m *metrics.Metrics, logger *slog.Logger) *agent.Supervisor {
	dialer := o.dialer
	if dialer == nil {
		dialer = driver.NewDialer(driver.DialerConfig{
			URL:              cfg.Driver.URL,
			HandshakeTimeout: cfg.Driver.HandshakeTimeout,
			Logger:           logger,
		})
	}

	return agent.NewSupervisor(agent.SupervisorConfig{
		Dialer: dialer,
		Bot: agent.Options{
			Username: cfg.Bot.Username,
			Host:     cfg.Bot.Host,
			Port:     cfg.Bot.Port,
			Version:  cfg.Bot.Version,
		},
		Greeting: cfg.Bot.Greeting,
		Reconnect: agent.ReconnectPolicy{
			Delay:       cfg.Reconnect.Delay,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
		},
		Movement: agent.MovementPolicy{
			Interval: cfg.Movement.Interval,
			Range:    cfg.Movement.Range,
			Y:        cfg.Movement.Y,
		},
		Clock:    o.clock,
		Recorder: s,
		Metrics:  m,
		Logger:   logger.With("component", "supervisor"),
	})
}

// registerHTTPAPIRoutes registers the control routes on the mux with or without auth middleware.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux) error {
	routes := map[string]http.HandlerFunc{
		"/start-bot":   g.handleStartBot,
		"/stop-bot":    g.handleStopBot,
		"/bot-status":  g.handleBotStatus,
		"/api/events":  g.handleEvents,
		"/api/events/": g.handleEvent,
	}

	wrap := rateLimitMiddleware(g.config.RateLimit, g.logger)
	if g.config.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(g.config.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating HTTP JWT verifier: %w", err)
		}
		authMiddleware := auth.HTTPAuthMiddleware(verifier, g.logger.With("component", "auth"))
		limit := wrap
		wrap = func(next http.Handler) http.Handler { return limit(authMiddleware(next)) }
		g.logger.Info("HTTP auth middleware enabled")
	} else {
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}

	for path, handler := range routes {
		mux.Handle(path, g.instrument(path, wrap(handler)))
	}
	return nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	gw := &Gateway{
		config:     cfg,
		supervisor: newSupervisor(cfg, &o, s, m, logger),
		store:      s,
		metrics:    m,
		logger:     logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.Handle("/health", gw.instrument("/health", http.HandlerFunc(gw.handleHealth)))
	mux.Handle("/health/ready", gw.instrument("/health/ready", http.HandlerFunc(gw.handleReady)))

	if err := gw.registerHTTPAPIRoutes(mux); err != nil {
		_ = s.Close()
		return nil, err
	}

	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, m.Handler())
		gw.logger.Info("metrics endpoint enabled", "path", cfg.Metrics.Path)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Supervisor returns the agent supervisor owned by the gateway.
func (g *Gateway) Supervisor() *agent.Supervisor {
	return g.supervisor
}

// Handler returns the HTTP handler serving the control API.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListener creates the standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// autostart connects the bot once the control API is reachable.
func (g *Gateway) autostart(ctx context.Context) {
	if !g.config.Bot.Autostart {
		return
	}
	if err := g.supervisor.Start(ctx); err != nil {
		g.logger.Warn("autostart skipped", "error", err)
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServer(ln)
	g.autostart(ctx)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "botkeeper", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet with tsnet and listens on :80.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, stops the bot if one is running and waits for
// its goroutines, then releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if err := g.supervisor.Stop(ctx); err != nil && !errors.Is(err, agent.ErrNotRunning) {
		errs = append(errs, fmt.Errorf("bot stop: %w", err))
	}
	// Handle goroutines record into the store until they return.
	errs = appendCloseError(errs, "bot wait", g.supervisor.Wait(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the bot has spawned in the world.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	st := g.supervisor.Status()
	if !st.Spawned {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("bot not spawned"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%s on %s:%d)", st.BotName, st.Host, st.Port)
}
