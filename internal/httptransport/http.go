// Package httptransport implements the HTTP MCP Transport: POST
// dispatch, GET SSE streaming with Last-Event-ID resume, and DELETE
// session termination, plus the static descriptor endpoints (/health,
// /info, the well-known agent cards) and the metrics/audit surfaces.
package httptransport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oneagent/mcp-transport-core/internal/audit"
	"github.com/oneagent/mcp-transport-core/internal/dispatch"
	"github.com/oneagent/mcp-transport-core/internal/eventlog"
	"github.com/oneagent/mcp-transport-core/internal/jsonrpc"
	"github.com/oneagent/mcp-transport-core/internal/mcperr"
	"github.com/oneagent/mcp-transport-core/internal/metrics"
	"github.com/oneagent/mcp-transport-core/internal/originguard"
	"github.com/oneagent/mcp-transport-core/internal/session"
)

// Config controls transport-level behavior.
type Config struct {
	ProtocolVersion     string
	RequestTimeout      time.Duration
	MaxRequestBodyBytes int64
	HeartbeatInterval   time.Duration
	ServerName          string
	ServerVersion       string
}

// Transport serves the three /mcp HTTP verbs plus the static descriptor
// endpoints.
type Transport struct {
	dispatcher *dispatch.Dispatcher
	sessions   *session.Store
	events     *eventlog.Log
	origin     *originguard.Guard
	cfg        Config
	metrics    *metrics.Collector
	audit      *audit.Logger
	logger     *slog.Logger

	mu      sync.Mutex
	streams map[string]chan *eventlog.Event // sessionID -> live SSE push channel
}

func New(d *dispatch.Dispatcher, sessions *session.Store, events *eventlog.Log, origin *originguard.Guard, cfg Config, collector *metrics.Collector, auditLogger *audit.Logger, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxRequestBodyBytes <= 0 {
		cfg.MaxRequestBodyBytes = 10 * 1024 * 1024
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 20 * time.Second
	}
	return &Transport{
		dispatcher: d,
		sessions:   sessions,
		events:     events,
		origin:     origin,
		cfg:        cfg,
		metrics:    collector,
		audit:      auditLogger,
		logger:     logger,
		streams:    make(map[string]chan *eventlog.Event),
	}
}

// Handler returns the http.Handler serving the /mcp verbs and the
// static descriptor endpoints.
func (t *Transport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", t.handleMCP)
	mux.HandleFunc("/health", t.handleHealth)
	mux.HandleFunc("/info", t.handleInfo)
	mux.HandleFunc("/metrics", t.handleMetrics)
	mux.HandleFunc("/audit/stats", t.handleAuditStats)
	mux.HandleFunc("/.well-known/agent-card.json", t.handleAgentCard)
	mux.HandleFunc("/.well-known/agent.json", t.handleAgentCard)
	return mux
}

func (t *Transport) handleMCP(w http.ResponseWriter, r *http.Request) {
	if !t.checkOrigin(w, r) {
		return
	}
	switch r.Method {
	case http.MethodPost:
		t.handlePOST(w, r)
	case http.MethodGet:
		t.handleGET(w, r)
	case http.MethodDelete:
		t.handleDELETE(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (t *Transport) checkOrigin(w http.ResponseWriter, r *http.Request) bool {
	decision := t.origin.Validate(r.Header.Get("Origin"))
	if !decision.Allowed {
		http.Error(w, "origin denied", http.StatusForbidden)
		return false
	}
	return true
}

func (t *Transport) handlePOST(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), t.cfg.RequestTimeout)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, t.cfg.MaxRequestBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
		return
	}

	// Batch requests are rejected outright.
	if jsonrpc.IsBatch(body) {
		t.writeJSON(w, http.StatusBadRequest, jsonrpc.NewError(nil, mcperr.RPCInvalidRequest, "batch requests are not supported", nil))
		return
	}

	var req jsonrpc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		t.writeJSON(w, http.StatusBadRequest, jsonrpc.NewError(nil, mcperr.RPCParseError, "invalid json", nil))
		return
	}
	if err := jsonrpc.ValidateEnvelope(&req); err != nil {
		t.writeJSON(w, http.StatusBadRequest, jsonrpc.NewError(req.ID, mcperr.RPCInvalidRequest, err.Error(), nil))
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	if req.Method != "initialize" {
		if sessionID != "" {
			if _, err := t.sessions.Get(sessionID); err != nil {
				http.Error(w, "session not found", http.StatusNotFound)
				return
			}
			_ = t.sessions.Touch(sessionID)
		}
	}

	resp := t.dispatcher.Dispatch(ctx, sessionID, &req)

	w.Header().Set("X-MCP-Protocol-Version", t.cfg.ProtocolVersion)

	if req.Method == "initialize" && resp != nil && resp.Error == nil {
		newID := session.NewID()
		now := time.Now()
		_ = t.sessions.Create(&session.Session{
			ID:           newID,
			Origin:       r.Header.Get("Origin"),
			CreatedAt:    now,
			LastActivity: now,
			ExpiresAt:    now.Add(time.Hour),
		})
		w.Header().Set("Mcp-Session-Id", newID)
	}

	if resp == nil {
		// Pure notification: no response body.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	t.writeJSON(w, http.StatusOK, resp)
}

func (t *Transport) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.logger.Error("encode response failed", "error", err)
	}
}

func (t *Transport) handleGET(w http.ResponseWriter, r *http.Request) {
	if !acceptsEventStream(r.Header) {
		http.Error(w, "missing accept: text/event-stream", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID != "" {
		if _, err := t.sessions.Get(sessionID); err != nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
	} else {
		sessionID = session.NewID()
	}
	streamID := r.URL.Query().Get("streamId")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		for _, ev := range t.events.After(sessionID, streamID, lastEventID) {
			if _, err := w.Write(frameFor(ev)); err != nil {
				return
			}
			flusher.Flush()
		}
	} else {
		init := t.events.Append(sessionID, streamID, "notifications/initialized", []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
		if _, err := w.Write(frameFor(init)); err != nil {
			return
		}
		flusher.Flush()
	}

	ch := t.registerStream(sessionID)
	defer t.unregisterStream(sessionID)

	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := w.Write(jsonrpc.SSEHeartbeat()); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-ch:
			if ev.StreamID != streamID {
				continue
			}
			if _, err := w.Write(frameFor(ev)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func frameFor(ev *eventlog.Event) []byte {
	return jsonrpc.SSEFrame(ev.ID, ev.Type, ev.Payload)
}

func acceptsEventStream(h http.Header) bool {
	for _, v := range h.Values("Accept") {
		if strings.Contains(v, "text/event-stream") || strings.Contains(v, "*/*") {
			return true
		}
	}
	return false
}

func (t *Transport) registerStream(sessionID string) chan *eventlog.Event {
	ch := make(chan *eventlog.Event, 64)
	t.mu.Lock()
	t.streams[sessionID] = ch
	t.mu.Unlock()
	return ch
}

func (t *Transport) unregisterStream(sessionID string) {
	t.mu.Lock()
	delete(t.streams, sessionID)
	t.mu.Unlock()
}

// PushEvent appends an event to the Event Log and, if a live GET stream
// is open for sessionID, forwards it immediately. Used by engine change
// notifications (toolsChanged/resourcesChanged/promptsChanged) wired at
// startup.
func (t *Transport) PushEvent(sessionID, streamID, eventType string, payload []byte) {
	ev := t.events.Append(sessionID, streamID, eventType, payload)
	t.mu.Lock()
	ch, ok := t.streams[sessionID]
	t.mu.Unlock()
	if ok {
		select {
		case ch <- ev:
		default:
		}
	}
}

// BroadcastEvent pushes eventType/payload onto the Event Log and live
// stream of every session that currently has an open GET stream, for
// engine change notifications (toolsChanged/resourcesChanged/
// promptsChanged) that apply to every connected client rather than one
// session. Sessions without an open stream do not receive the event.
func (t *Transport) BroadcastEvent(eventType string, payload []byte) {
	t.mu.Lock()
	sessionIDs := make([]string, 0, len(t.streams))
	for id := range t.streams {
		sessionIDs = append(sessionIDs, id)
	}
	t.mu.Unlock()
	for _, sessionID := range sessionIDs {
		t.PushEvent(sessionID, "", eventType, payload)
	}
}

func (t *Transport) handleDELETE(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "missing Mcp-Session-Id header", http.StatusBadRequest)
		return
	}
	t.sessions.Delete(sessionID) // idempotent from the client's view
	t.events.ClearSession(sessionID)
	w.WriteHeader(http.StatusOK)
}

func (t *Transport) handleHealth(w http.ResponseWriter, r *http.Request) {
	t.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (t *Transport) handleInfo(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"name":            t.cfg.ServerName,
		"version":         t.cfg.ServerVersion,
		"protocolVersion": t.cfg.ProtocolVersion,
	}
	if t.metrics != nil {
		body["metrics"] = t.metrics.Snapshot()
	}
	t.writeJSON(w, http.StatusOK, body)
}

// handleMetrics exposes the Prometheus text-format counters.
func (t *Transport) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if t.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(t.metrics.PrometheusFormat()))
}

// handleAuditStats summarizes the audit trail's dispatch/mission
// counters, optionally scoped to one sessionId query parameter. 404s
// when the audit sink is disabled, same as /metrics.
func (t *Transport) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	if t.audit == nil {
		http.Error(w, "audit sink not enabled", http.StatusNotFound)
		return
	}
	sessionID := r.URL.Query().Get("sessionId")
	stats, err := t.audit.GetStats(sessionID, time.Time{})
	if err != nil {
		http.Error(w, "audit stats query failed", http.StatusInternalServerError)
		return
	}
	t.writeJSON(w, http.StatusOK, stats)
}

func (t *Transport) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	t.writeJSON(w, http.StatusOK, map[string]any{
		"name":        t.cfg.ServerName,
		"version":     t.cfg.ServerVersion,
		"description": "MCP transport core agent",
		"protocols":   []string{"mcp-http", "mcp-sse", "mcp-stdio"},
	})
}
