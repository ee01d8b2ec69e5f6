// Package api implements the operator-facing HTTP and WebSocket surface:
// state inspection, message injection, world events, and pacing control.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/agorasim/agora/internal/bdi"
	"github.com/agorasim/agora/internal/buildinfo"
	"github.com/agorasim/agora/internal/events"
	"github.com/agorasim/agora/internal/store"
	"github.com/agorasim/agora/internal/world"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	world   *world.World
	store   *store.Store // may be nil when persistence is disabled
	bus     *events.Bus
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates the API server. store may be nil.
func NewServer(address string, port int, w *world.World, st *store.Store, bus *events.Bus, logger *slog.Logger) *Server {
	return &Server{
		address: address,
		port:    port,
		world:   w,
		store:   st,
		bus:     bus,
		logger:  logger.With("component", "api"),
	}
}

// Handler builds the route table. Exposed separately so tests can drive
// the mux without a listening socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/agents", s.handleAgents)
	mux.HandleFunc("GET /api/agents/{id}", s.handleAgentGet)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/messages", s.handleMessages)
	mux.HandleFunc("GET /api/conversations", s.handleConversations)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/messages", s.handleSendMessage)
	mux.HandleFunc("POST /api/events", s.handleAddEvent)
	mux.HandleFunc("POST /api/control/speed", s.handleSetSpeed)

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. Blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Agora",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status": "healthy",
		"tick":   s.world.Snapshot().Tick,
	}, s.logger)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	snap := s.world.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"agents": snap.Agents,
		"count":  len(snap.Agents),
	}, s.logger)
}

func (s *Server) handleAgentGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, a := range s.world.Snapshot().Agents {
		if a.ID == id {
			w.Header().Set("Content-Type", "application/json")
			writeJSON(w, a, s.logger)
			return
		}
	}
	s.errorResponse(w, http.StatusNotFound, "agent not found")
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50)
	evs := s.world.RecentEvents(limit)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"events": eventViews(evs),
		"count":  len(evs),
	}, s.logger)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}
	limit := parseIntParam(r, "limit", 50)
	msgs, err := s.store.RecentMessages(limit)
	if err != nil {
		s.logger.Error("message query failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "query failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"messages": msgs,
		"count":    len(msgs),
	}, s.logger)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	snap := s.world.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"conversations": snap.Conversations,
		"count":         len(snap.Conversations),
	}, s.logger)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.stateFrame("state"), s.logger)
}

// sendMessageRequest injects an operator message into the world.
type sendMessageRequest struct {
	SenderID         string `json:"sender_id,omitempty"` // defaults to the reserved user id
	ReceiverID       string `json:"receiver_id"`
	Content          string `json:"content"`
	Topic            string `json:"topic,omitempty"`
	RequiresResponse *bool  `json:"requires_response,omitempty"` // defaults to true
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ReceiverID == "" || req.Content == "" {
		s.errorResponse(w, http.StatusBadRequest, "receiver_id and content are required")
		return
	}
	sender := req.SenderID
	if sender == "" {
		sender = bdi.UserID
	}
	requires := true
	if req.RequiresResponse != nil {
		requires = *req.RequiresResponse
	}

	m := s.world.EnqueueExternalMessage(sender, req.ReceiverID, req.Content, req.Topic, requires)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"status": "sent", "message_id": m.ID}, s.logger)
}

// addEventRequest injects a world event. An empty agent list broadcasts.
type addEventRequest struct {
	Description string   `json:"description"`
	AgentIDs    []string `json:"agent_ids,omitempty"`
}

func (s *Server) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	var req addEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Description == "" {
		s.errorResponse(w, http.StatusBadRequest, "description is required")
		return
	}

	e := s.world.InjectEvent(req.Description, req.AgentIDs)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"status": "ok", "event_id": e.ID, "type": e.Type}, s.logger)
}

func (s *Server) handleSetSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	applied := s.world.SetTimeSpeed(req.Speed)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"status": "ok", "speed": applied}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

// stateFrame assembles the full state message shared by GET /api/state
// and the WebSocket push.
func (s *Server) stateFrame(frameType string) map[string]any {
	snap := s.world.Snapshot()
	frame := map[string]any{
		"type":          frameType,
		"tick":          snap.Tick,
		"time_speed":    snap.TimeSpeed,
		"agents":        snap.Agents,
		"conversations": snap.Conversations,
		"relationships": snap.Relationships,
		"recent_events": eventViews(s.world.RecentEvents(20)),
	}
	if s.store != nil {
		if msgs, err := s.store.RecentMessages(10); err == nil {
			frame["recent_messages"] = msgs
		}
	}
	return frame
}

// eventView is the wire form of an event-log entry.
type eventView struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Description  string         `json:"description"`
	Participants []string       `json:"participants,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

func eventViews(evs []*world.Event) []eventView {
	out := make([]eventView, len(evs))
	for i, e := range evs {
		out[i] = eventView{
			ID:           e.ID,
			Type:         e.Type,
			Description:  e.Description,
			Participants: e.Participants,
			Data:         e.Data,
			Timestamp:    e.Timestamp,
		}
	}
	return out
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
