// ABOUTME: HTTP API handlers for starting, stopping, and inspecting the bot.
// ABOUTME: Provides POST /start-bot, POST /stop-bot, GET /bot-status, and the /api/events ledger.

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/botkeeper/internal/agent"
	"github.com/2389/botkeeper/internal/auth"
	"github.com/2389/botkeeper/internal/store"
)

// Response texts of the control routes.
const (
	msgBotStarted     = "Bot started successfully."
	msgBotStopped     = "Bot stopped successfully"
	msgAlreadyRunning = "A bot is already running."
	msgNotRunning     = "No bot is currently running."

	StatusNoBot   = "No bot running"
	StatusRunning = "Running"
)

// MessageResponse is the JSON body of a successful start or stop.
type MessageResponse struct {
	Message string `json:"message"`
}

// BotStatusResponse is the JSON response for GET /bot-status.
// The bot fields are only present while a bot is running.
type BotStatusResponse struct {
	Status  string `json:"status"`
	BotName string `json:"botName,omitempty"`
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`
}

// AgentEventResponse is one ledger row in GET /api/events.
type AgentEventResponse struct {
	ID         string `json:"id"`
	HandleID   string `json:"handle_id"`
	Generation uint64 `json:"generation"`
	Type       string `json:"type"`
	Detail     string `json:"detail,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// ListEventsResponse is the JSON response for GET /api/events.
type ListEventsResponse struct {
	Events []AgentEventResponse `json:"events"`
}

// handleStartBot handles POST /start-bot requests.
// The bot connects in the background; 201 means a handle was created, not that it spawned.
func (g *Gateway) handleStartBot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err := g.supervisor.Start(r.Context()); err != nil {
		if errors.Is(err, agent.ErrAlreadyRunning) {
			g.sendJSONError(w, http.StatusBadRequest, msgAlreadyRunning)
			return
		}
		g.logger.Error("failed to start bot", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("bot start requested", "subject", requestSubject(r))
	g.sendJSON(w, http.StatusCreated, MessageResponse{Message: msgBotStarted})
}

// handleStopBot handles POST /stop-bot requests.
func (g *Gateway) handleStopBot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err := g.supervisor.Stop(r.Context()); err != nil {
		if errors.Is(err, agent.ErrNotRunning) {
			g.sendJSONError(w, http.StatusBadRequest, msgNotRunning)
			return
		}
		g.logger.Error("failed to stop bot", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("bot stop requested", "subject", requestSubject(r))
	g.sendJSON(w, http.StatusOK, MessageResponse{Message: msgBotStopped})
}

// handleBotStatus handles GET /bot-status requests. It never fails.
func (g *Gateway) handleBotStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	g.sendJSON(w, http.StatusOK, statusResponse(g.supervisor.Status()))
}

// requestSubject names the authenticated caller, or "anonymous" when auth is off.
func requestSubject(r *http.Request) string {
	if a := auth.FromContext(r.Context()); a != nil && a.Subject != "" {
		return a.Subject
	}
	return "anonymous"
}

func statusResponse(st agent.Status) BotStatusResponse {
	if !st.Running {
		return BotStatusResponse{Status: StatusNoBot}
	}
	return BotStatusResponse{
		Status:  StatusRunning,
		BotName: st.BotName,
		Host:    st.Host,
		Port:    st.Port,
	}
}

// handleEvents handles GET /api/events requests.
// Returns ledger rows newest first. Supports ?limit=N, ?handle_id=X and ?type=Y.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	params := store.ListEventsParams{
		HandleID: q.Get("handle_id"),
		Type:     store.AgentEventType(q.Get("type")),
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		params.Limit = limit
	}

	events, err := g.store.ListAgentEvents(r.Context(), params)
	if err != nil {
		g.logger.Error("failed to list agent events", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := ListEventsResponse{Events: make([]AgentEventResponse, len(events))}
	for i, evt := range events {
		response.Events[i] = eventResponse(evt)
	}

	g.sendJSON(w, http.StatusOK, response)
}

// handleEvent handles GET /api/events/{id} requests.
func (g *Gateway) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	eventID := strings.TrimPrefix(r.URL.Path, "/api/events/")
	if eventID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "event_id is required")
		return
	}
	if _, err := uuid.Parse(eventID); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid event_id format")
		return
	}

	evt, err := g.store.GetAgentEvent(r.Context(), eventID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get agent event", "error", err, "event_id", eventID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, eventResponse(evt))
}

func eventResponse(evt *store.AgentEvent) AgentEventResponse {
	return AgentEventResponse{
		ID:         evt.ID,
		HandleID:   evt.HandleID,
		Generation: evt.Generation,
		Type:       string(evt.Type),
		Detail:     evt.Detail,
		CreatedAt:  evt.CreatedAt.Format(time.RFC3339Nano),
	}
}

// sendJSON writes v as a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
