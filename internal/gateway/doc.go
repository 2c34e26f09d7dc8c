// Package gateway orchestrates the botkeeper server components.
//
// # Overview
//
// The gateway package is the central coordinator of the botkeeper server.
// It owns the agent supervisor, the event ledger store, the Prometheus
// metrics, and the HTTP server for the control API.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	type Gateway struct {
//	    config      *config.Config
//	    supervisor  *agent.Supervisor
//	    store       store.Store
//	    metrics     *metrics.Metrics
//	    httpServer  *http.Server
//	    tsnetServer *tsnet.Server
//	}
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - POST /start-bot - Create the bot handle (201, or 400 if one exists)
//   - POST /stop-bot - Disconnect and drop the handle (200, or 400 if none)
//   - GET /bot-status - {"status":"No bot running"} or the running bot's identity
//   - GET /api/events - Lifecycle ledger, newest first (?limit, ?handle_id, ?type)
//   - GET /api/events/{id} - One ledger row, 404 if unknown
//   - GET /health - Liveness check
//   - GET /health/ready - 200 once the bot has spawned, 503 otherwise
//   - GET /metrics - Prometheus exposition, when metrics.enabled is set
//
// Wrong methods return 405. Errors are JSON objects with an "error" field.
//
// # Middleware
//
// Control routes pass through, outermost first: request metrics, the
// ratelimit token bucket (429 when exhausted), and JWT bearer auth when
// auth.jwt_secret is configured. Health and metrics routes are never
// authenticated.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Run listens on server.http_addr (or on :80 of a tsnet node when tailscale
// is enabled) and, when bot.autostart is set, starts the bot once the
// listener is up. Canceling the context shuts down HTTP, stops the bot and
// waits for its goroutines, then closes the store.
//
// # Key Files
//
//   - gateway.go: Gateway struct, initialization, Run/Shutdown
//   - api.go: control route handlers
//   - middleware.go: request metrics and rate limiting
package gateway
