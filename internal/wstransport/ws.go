// Package wstransport implements the Mission-Control WS Transport: HTTP
// upgrade on a fixed path, one read loop per connection, heartbeats, and
// wiring into the subscription manager and mission executor. On close,
// every subscription is disposed and every in-flight mission canceled.
package wstransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/oneagent/mcp-transport-core/internal/audit"
	"github.com/oneagent/mcp-transport-core/internal/channel"
	"github.com/oneagent/mcp-transport-core/internal/mcperr"
	"github.com/oneagent/mcp-transport-core/internal/metrics"
	"github.com/oneagent/mcp-transport-core/internal/mission"
	"github.com/oneagent/mcp-transport-core/internal/originguard"
	"github.com/oneagent/mcp-transport-core/internal/subscription"
	"github.com/oneagent/mcp-transport-core/internal/validate"
)

// Info identifies this server in every outbound envelope.
type Info struct {
	Name    string
	Version string
}

// Config controls the WS transport's fixed path and heartbeat cadence.
type Config struct {
	Path              string
	HeartbeatInterval time.Duration
	ProtocolVersion   string
	Info              Info
}

// Server upgrades and serves Mission-Control WS connections.
type Server struct {
	cfg       Config
	upgrader  websocket.Upgrader
	validator *validate.Validator
	channels  *channel.Registry
	subs      *subscription.Manager
	missions  *mission.Executor
	metrics   *metrics.Collector
	audit     *audit.Logger
	logger    *slog.Logger

	mu    sync.Mutex
	conns map[string]channel.Conn
}

func New(cfg Config, origin *originguard.Guard, validator *validate.Validator, channels *channel.Registry, subs *subscription.Manager, missions *mission.Executor, collector *metrics.Collector, auditLogger *audit.Logger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Server{
		cfg:       cfg,
		validator: validator,
		channels:  channels,
		subs:      subs,
		missions:  missions,
		metrics:   collector,
		audit:     auditLogger,
		logger:    logger,
		conns:     make(map[string]channel.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return origin.Validate(r.Header.Get("Origin")).Allowed
			},
		},
	}
}

// Handler returns an http.Handler that must be mounted at cfg.Path; the
// mux wiring it only at the fixed path is what keeps every other path
// from ever reaching an upgrade.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveWS)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	wc := &wsConn{id: uuid.NewString(), conn: conn, remoteAddr: r.RemoteAddr}
	s.mu.Lock()
	s.conns[wc.id] = wc
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordConnection(true)
	}
	if s.audit != nil {
		s.audit.LogConnection(wc.id, wc.remoteAddr, true)
	}
	s.logger.Info("mission-control connection opened", "conn", wc.id)
	s.run(wc)
}

// Publish sends payload to every connection subscribed to name. Built-in
// and user-registered channels call this to fan out.
func (s *Server) Publish(name string, payload any) {
	s.mu.Lock()
	all := make(map[string]channel.Conn, len(s.conns))
	for id, c := range s.conns {
		all[id] = c
	}
	s.mu.Unlock()
	s.subs.Publish(name, payload, all)
}

func (s *Server) run(wc *wsConn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	heartbeatDone := make(chan struct{})
	go s.heartbeatLoop(ctx, wc, heartbeatDone)

	defer func() {
		s.mu.Lock()
		delete(s.conns, wc.id)
		s.mu.Unlock()

		s.subs.DisposeConnection(ctx, wc)
		s.missions.CancelAll(wc.id, s.missionSender(wc))
		cancel()
		<-heartbeatDone
		_ = wc.conn.Close()
		if s.metrics != nil {
			s.metrics.RecordConnection(false)
		}
		if s.audit != nil {
			s.audit.LogConnection(wc.id, wc.remoteAddr, false)
		}
		s.logger.Info("mission-control connection closed", "conn", wc.id)
	}()

	for {
		_, raw, err := wc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("ws read error", "conn", wc.id, "error", err)
			}
			return
		}
		s.handleMessage(ctx, wc, raw)
	}
}

func (s *Server) heartbeatLoop(ctx context.Context, wc *wsConn, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wc.Send(s.envelope("heartbeat", nil)); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, wc *wsConn, raw []byte) {
	msgType, err := s.validator.ValidateInbound(raw)
	if err != nil {
		_ = wc.Send(s.envelope("protocol_error", map[string]any{
			"error": map[string]any{"code": string(mcperr.CodeInvalidMessage), "message": err.Error()},
		}))
		return
	}

	switch msgType {
	case validate.InboundSubscribe:
		s.handleSubscribe(ctx, wc, raw)
	case validate.InboundUnsubscribe:
		s.handleUnsubscribe(ctx, wc, raw)
	case validate.InboundPing:
		_ = wc.Send(s.envelope("pong", nil))
	case validate.InboundWhoami:
		_ = wc.Send(s.envelope("whoami", map[string]any{"connId": wc.id}))
	case validate.InboundMissionStart:
		s.handleMissionStart(ctx, wc, raw)
	case validate.InboundMissionCancel:
		s.handleMissionCancel(wc, raw)
	}
}

type channelsMsg struct {
	Channels []string `json:"channels"`
}

func (s *Server) handleSubscribe(ctx context.Context, wc *wsConn, raw []byte) {
	var msg channelsMsg
	_ = json.Unmarshal(raw, &msg)
	for _, name := range msg.Channels {
		if err := s.subs.Subscribe(ctx, wc, name); err != nil {
			_ = wc.Send(s.envelope("subscription_error", map[string]any{
				"channel": name,
				"error":   map[string]any{"code": string(mcperr.CodeUnknownChannel)},
			}))
			continue
		}
		_ = wc.Send(s.envelope("subscription_ack", map[string]any{"channel": name}))
	}
}

func (s *Server) handleUnsubscribe(ctx context.Context, wc *wsConn, raw []byte) {
	var msg channelsMsg
	_ = json.Unmarshal(raw, &msg)
	for _, name := range msg.Channels {
		s.subs.Unsubscribe(ctx, wc, name)
		_ = wc.Send(s.envelope("subscription_ack", map[string]any{"channel": name, "unsubscribed": true}))
	}
}

type missionStartMsg struct {
	Command string `json:"command"`
}

func (s *Server) handleMissionStart(ctx context.Context, wc *wsConn, raw []byte) {
	var msg missionStartMsg
	_ = json.Unmarshal(raw, &msg)
	missionID, err := s.missions.Start(ctx, wc.id, msg.Command, s.missionSender(wc))
	if err != nil {
		_ = wc.Send(s.envelope("protocol_error", map[string]any{
			"error": map[string]any{"code": "mission_start_failed", "message": err.Error()},
		}))
		return
	}
	s.logger.Debug("mission started", "conn", wc.id, "mission", missionID)
}

type missionCancelMsg struct {
	MissionID string `json:"missionId"`
}

func (s *Server) handleMissionCancel(wc *wsConn, raw []byte) {
	var msg missionCancelMsg
	_ = json.Unmarshal(raw, &msg)
	if err := s.missions.Cancel(wc.id, msg.MissionID, s.missionSender(wc)); err != nil {
		_ = wc.Send(s.envelope("protocol_error", map[string]any{
			"error": map[string]any{"code": string(mcperr.CodeUnknownMission)},
		}))
	}
}

func (s *Server) missionSender(wc *wsConn) mission.Sender {
	return func(f mission.Frame) {
		_ = wc.Send(s.envelope(f.Type, map[string]any{
			"missionId": f.MissionID,
			"message":   f.Message,
			"progress":  f.Progress,
			"result":    f.Result,
			"error":     f.Error,
		}))
	}
}

// envelope wraps payload with the common outbound fields every frame
// must carry: protocolVersion, type, id, timestamp,
// unix, server.
func (s *Server) envelope(frameType string, payload map[string]any) map[string]any {
	now := time.Now().UTC()
	frame := map[string]any{
		"protocolVersion": s.cfg.ProtocolVersion,
		"type":            frameType,
		"id":              uuid.NewString(),
		"timestamp":       now.Format(time.RFC3339Nano),
		"unix":            now.Unix(),
		"server":          map[string]any{"name": s.cfg.Info.Name, "version": s.cfg.Info.Version},
	}
	for k, v := range payload {
		frame[k] = v
	}
	s.validator.ValidateOutbound(frame)
	return frame
}

// wsConn adapts a gorilla *websocket.Conn to channel.Conn, serializing
// writes behind a mutex since gorilla's Conn forbids concurrent writers.
type wsConn struct {
	id         string
	conn       *websocket.Conn
	remoteAddr string
	writeMu    sync.Mutex
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(frame any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(frame)
}
