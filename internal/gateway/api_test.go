// ABOUTME: Tests for the control API handlers and their middleware.
// ABOUTME: Verifies status codes, JSON bodies, auth, rate limiting, and the events listing.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tailscale.com/tstest"

	"github.com/2389/botkeeper/internal/agent"
	"github.com/2389/botkeeper/internal/auth"
	"github.com/2389/botkeeper/internal/config"
)

const testJWTSecret = "test-secret-key-for-jwt-signing!"

func newTestGateway(t *testing.T, mutate ...func(*config.Config)) (*Gateway, *stubDialer) {
	t.Helper()

	cfg := testConfig(t)
	for _, m := range mutate {
		m(cfg)
	}
	dialer := &stubDialer{}

	gw, err := New(cfg, testLogger(), WithDialer(dialer))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw, dialer
}

func doRequest(t *testing.T, h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestStartBot(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doRequest(t, gw.Handler(), http.MethodPost, "/start-bot", "")

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, map[string]any{"message": "Bot started successfully."}, decodeBody(t, rec))
	assert.True(t, gw.Supervisor().Status().Running)
}

func TestStartBot_AlreadyRunning(t *testing.T) {
	gw, _ := newTestGateway(t)

	require.Equal(t, http.StatusCreated, doRequest(t, gw.Handler(), http.MethodPost, "/start-bot", "").Code)
	before := gw.Supervisor().Status()

	rec := doRequest(t, gw.Handler(), http.MethodPost, "/start-bot", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"error": "A bot is already running."}, decodeBody(t, rec))
	assert.Equal(t, before.HandleID, gw.Supervisor().Status().HandleID, "handle must be untouched")
}

func TestStopBot(t *testing.T) {
	gw, _ := newTestGateway(t)
	require.Equal(t, http.StatusCreated, doRequest(t, gw.Handler(), http.MethodPost, "/start-bot", "").Code)

	rec := doRequest(t, gw.Handler(), http.MethodPost, "/stop-bot", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"message": "Bot stopped successfully"}, decodeBody(t, rec))
	assert.False(t, gw.Supervisor().Status().Running)
}

func TestStopBot_NotRunning(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doRequest(t, gw.Handler(), http.MethodPost, "/stop-bot", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"error": "No bot is currently running."}, decodeBody(t, rec))
}

// logBuffer is a goroutine-safe log sink.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// logLine returns the first log line whose message is msg.
func logLine(out, msg string) string {
	for line := range strings.SplitSeq(out, "\n") {
		if strings.Contains(line, `msg="`+msg+`"`) {
			return line
		}
	}
	return ""
}

func getBotStatus(t *testing.T, h http.Handler) BotStatusResponse {
	t.Helper()
	rec := doRequest(t, h, http.MethodGet, "/bot-status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st BotStatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	return st
}

func TestBotStatus(t *testing.T) {
	gw, _ := newTestGateway(t)
	h := gw.Handler()

	rec := doRequest(t, h, http.MethodGet, "/bot-status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "No bot running"}, decodeBody(t, rec))

	require.Equal(t, http.StatusCreated, doRequest(t, h, http.MethodPost, "/start-bot", "").Code)

	rec = doRequest(t, h, http.MethodGet, "/bot-status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{
		"status":  "Running",
		"botName": "RIDER420",
		"host":    "novasprak.aternos.me",
		"port":    float64(32289),
	}, decodeBody(t, rec))

	require.Equal(t, http.StatusOK, doRequest(t, h, http.MethodPost, "/stop-bot", "").Code)

	rec = doRequest(t, h, http.MethodGet, "/bot-status", "")
	assert.Equal(t, map[string]any{"status": "No bot running"}, decodeBody(t, rec))
}

func TestStartStopSequence(t *testing.T) {
	gw, _ := newTestGateway(t)
	h := gw.Handler()

	steps := []struct {
		path string
		want int
	}{
		{"/start-bot", http.StatusCreated},
		{"/start-bot", http.StatusBadRequest},
		{"/stop-bot", http.StatusOK},
		{"/stop-bot", http.StatusBadRequest},
		{"/start-bot", http.StatusCreated},
		{"/stop-bot", http.StatusOK},
	}
	for i, step := range steps {
		rec := doRequest(t, h, http.MethodPost, step.path, "")
		assert.Equal(t, step.want, rec.Code, "step %d: %s", i, step.path)
	}
	assert.False(t, gw.Supervisor().Status().Running)
}

func TestControlRoutes_MethodNotAllowed(t *testing.T) {
	gw, _ := newTestGateway(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/start-bot"},
		{http.MethodDelete, "/start-bot"},
		{http.MethodGet, "/stop-bot"},
		{http.MethodPost, "/bot-status"},
		{http.MethodPost, "/api/events"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := doRequest(t, gw.Handler(), tt.method, tt.path, "")
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		})
	}
	assert.False(t, gw.Supervisor().Status().Running, "a rejected method must not start the bot")
}

func TestStartBot_IgnoresBody(t *testing.T) {
	gw, _ := newTestGateway(t)

	req := httptest.NewRequest(http.MethodPost, "/start-bot", strings.NewReader(`{"username":"someone-else"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "RIDER420", gw.Supervisor().Status().BotName)
}

func TestEvents(t *testing.T) {
	gw, _ := newTestGateway(t)
	h := gw.Handler()

	require.Equal(t, http.StatusCreated, doRequest(t, h, http.MethodPost, "/start-bot", "").Code)
	require.Equal(t, http.StatusOK, doRequest(t, h, http.MethodPost, "/stop-bot", "").Code)

	var resp ListEventsResponse
	require.Eventually(t, func() bool {
		rec := doRequest(t, h, http.MethodGet, "/api/events?type=stop", "")
		if rec.Code != http.StatusOK {
			return false
		}
		resp = ListEventsResponse{}
		return json.NewDecoder(rec.Body).Decode(&resp) == nil && len(resp.Events) == 1
	}, time.Second, 10*time.Millisecond)

	stop := resp.Events[0]
	assert.Equal(t, "stop", stop.Type)
	assert.NotEmpty(t, stop.ID)
	assert.NotEmpty(t, stop.HandleID)
	assert.Equal(t, uint64(1), stop.Generation)
	_, err := time.Parse(time.RFC3339Nano, stop.CreatedAt)
	assert.NoError(t, err)

	rec := doRequest(t, h, http.MethodGet, "/api/events?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = ListEventsResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Events, 1)

	rec = doRequest(t, h, http.MethodGet, "/api/events?handle_id="+stop.HandleID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = ListEventsResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.Events)
	for _, evt := range resp.Events {
		assert.Equal(t, stop.HandleID, evt.HandleID)
	}
}

func TestEvents_EmptyList(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doRequest(t, gw.Handler(), http.MethodGet, "/api/events", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"events":[]}`, rec.Body.String())
}

func TestEvents_InvalidLimit(t *testing.T) {
	gw, _ := newTestGateway(t)

	for _, limit := range []string{"0", "-3", "many"} {
		rec := doRequest(t, gw.Handler(), http.MethodGet, "/api/events?limit="+limit, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
		assert.Equal(t, "limit must be a positive integer", decodeBody(t, rec)["error"])
	}
}

func TestControlRoutes_RequireAuth(t *testing.T) {
	gw, _ := newTestGateway(t, func(cfg *config.Config) {
		cfg.Auth.JWTSecret = testJWTSecret
	})
	h := gw.Handler()

	rec := doRequest(t, h, http.MethodPost, "/start-bot", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, gw.Supervisor().Status().Running)

	rec = doRequest(t, h, http.MethodGet, "/bot-status", "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	verifier, err := auth.NewJWTVerifier([]byte(testJWTSecret))
	require.NoError(t, err)
	token, err := verifier.Generate("ops", time.Hour)
	require.NoError(t, err)

	rec = doRequest(t, h, http.MethodPost, "/start-bot", token)
	assert.Equal(t, http.StatusCreated, rec.Code)

	// Health stays open.
	rec = doRequest(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestControlRoutes_RateLimited(t *testing.T) {
	gw, _ := newTestGateway(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}
	})
	h := gw.Handler()

	assert.Equal(t, http.StatusOK, doRequest(t, h, http.MethodGet, "/bot-status", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(t, h, http.MethodGet, "/bot-status", "").Code)

	rec := doRequest(t, h, http.MethodGet, "/bot-status", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate limit exceeded", decodeBody(t, rec)["error"])

	// Health is not rate limited.
	assert.Equal(t, http.StatusOK, doRequest(t, h, http.MethodGet, "/health", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	gw, _ := newTestGateway(t, func(cfg *config.Config) {
		cfg.Metrics.Enabled = true
	})
	h := gw.Handler()

	require.Equal(t, http.StatusCreated, doRequest(t, h, http.MethodPost, "/start-bot", "").Code)
	require.Equal(t, http.StatusOK, doRequest(t, h, http.MethodGet, "/bot-status", "").Code)

	rec := doRequest(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "botkeeper_agent_running 1")
	assert.Contains(t, body, "botkeeper_agent_starts_total 1")
	assert.Contains(t, body, `botkeeper_http_requests_total{method="GET",path="/bot-status",status="200"} 1`)
	assert.Contains(t, body, `botkeeper_http_requests_total{method="POST",path="/start-bot",status="201"} 1`)
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doRequest(t, gw.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusResponse_OmitsBotFieldsWhenIdle(t *testing.T) {
	data, err := json.Marshal(BotStatusResponse{Status: StatusNoBot})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"No bot running"}`, string(data))
}

func TestBotStatus_KickThenReconnect(t *testing.T) {
	clock := tstest.NewClock(tstest.ClockOpts{Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	cfg := testConfig(t)
	dialer := &stubDialer{spawn: true}

	gw, err := New(cfg, testLogger(), WithDialer(dialer), WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	h := gw.Handler()

	require.Equal(t, http.StatusCreated, doRequest(t, h, http.MethodPost, "/start-bot", "").Code)
	require.Eventually(t, func() bool {
		return gw.Supervisor().Status().Spawned
	}, time.Second, time.Millisecond)

	dialer.session(0).events <- agent.Event{Type: agent.EventKicked, Reason: "server restarting"}
	require.Eventually(t, func() bool {
		return getBotStatus(t, h).Status == StatusNoBot
	}, time.Second, time.Millisecond)

	clock.Advance(4 * time.Second)
	assert.Never(t, func() bool {
		return dialer.session(1) != nil
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, StatusNoBot, getBotStatus(t, h).Status)

	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return getBotStatus(t, h).Status == StatusRunning
	}, time.Second, time.Millisecond)
	st := getBotStatus(t, h)
	assert.Equal(t, cfg.Bot.Username, st.BotName)
	assert.Equal(t, cfg.Bot.Host, st.Host)
	assert.Equal(t, cfg.Bot.Port, st.Port)
	assert.Eventually(t, func() bool {
		return dialer.session(1) != nil
	}, time.Second, time.Millisecond)
}

func TestEvent_ByID(t *testing.T) {
	gw, _ := newTestGateway(t)
	h := gw.Handler()

	require.Equal(t, http.StatusCreated, doRequest(t, h, http.MethodPost, "/start-bot", "").Code)

	rec := doRequest(t, h, http.MethodGet, "/api/events?type=start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListEventsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Events, 1)
	want := list.Events[0]

	rec = doRequest(t, h, http.MethodGet, "/api/events/"+want.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got AgentEventResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, want, got)
}

func TestEvent_Errors(t *testing.T) {
	gw, _ := newTestGateway(t)
	h := gw.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		want   int
		errMsg string
	}{
		{"unknown id", http.MethodGet, "/api/events/" + uuid.New().String(), http.StatusNotFound, "event not found"},
		{"malformed id", http.MethodGet, "/api/events/not-a-uuid", http.StatusBadRequest, "invalid event_id format"},
		{"empty id", http.MethodGet, "/api/events/", http.StatusBadRequest, "event_id is required"},
		{"wrong method", http.MethodDelete, "/api/events/" + uuid.New().String(), http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, tt.method, tt.path, "")
			assert.Equal(t, tt.want, rec.Code)
			if tt.errMsg != "" {
				assert.Equal(t, tt.errMsg, decodeBody(t, rec)["error"])
			}
		})
	}
}

func TestControlRoutes_LogCallerSubject(t *testing.T) {
	var logs logBuffer
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = testJWTSecret

	gw, err := New(cfg, slog.New(slog.NewTextHandler(&logs, nil)), WithDialer(&stubDialer{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	verifier, err := auth.NewJWTVerifier([]byte(testJWTSecret))
	require.NoError(t, err)
	token, err := verifier.Generate("ops-oncall", time.Hour)
	require.NoError(t, err)

	h := gw.Handler()
	require.Equal(t, http.StatusCreated, doRequest(t, h, http.MethodPost, "/start-bot", token).Code)
	require.Equal(t, http.StatusOK, doRequest(t, h, http.MethodPost, "/stop-bot", token).Code)

	assert.Contains(t, logLine(logs.String(), "bot start requested"), "subject=ops-oncall")
	assert.Contains(t, logLine(logs.String(), "bot stop requested"), "subject=ops-oncall")
}

func TestControlRoutes_AnonymousWithoutAuth(t *testing.T) {
	var logs logBuffer
	cfg := testConfig(t)

	gw, err := New(cfg, slog.New(slog.NewTextHandler(&logs, nil)), WithDialer(&stubDialer{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	require.Equal(t, http.StatusCreated, doRequest(t, gw.Handler(), http.MethodPost, "/start-bot", "").Code)
	assert.Contains(t, logLine(logs.String(), "bot start requested"), "subject=anonymous")
}
