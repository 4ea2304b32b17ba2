// Package mission implements the Mission Executor: parsing
// mission_start commands, streaming progress frames, and honoring
// cooperative cancellation. Each mission holds a context.CancelFunc
// keyed by (connection, mission id); engine calls run behind a circuit
// breaker and per-connection rate limiter.
package mission

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oneagent/mcp-transport-core/internal/audit"
	"github.com/oneagent/mcp-transport-core/internal/circuitbreaker"
	"github.com/oneagent/mcp-transport-core/internal/engine"
	"github.com/oneagent/mcp-transport-core/internal/mcperr"
	"github.com/oneagent/mcp-transport-core/internal/metrics"
	"github.com/oneagent/mcp-transport-core/internal/ratelimit"
)

// Status is one of the five lifecycle states a Mission may be in (spec
// §3).
type Status string

const (
	Pending   Status = "pending"
	Running   Status = "running"
	Canceled  Status = "canceled"
	Completed Status = "completed"
	Failed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == Canceled || s == Completed || s == Failed
}

// Mission is an execution instance bound to a WS connection.
type Mission struct {
	ID        string
	ConnID    string
	Status    Status
	cancel    context.CancelFunc
	startedAt time.Time
}

// Frame is one outbound mission frame (mission_update, mission_log,
// mission_complete, mission_error, mission_canceled). The transport
// layer stamps the common envelope fields (protocolVersion, id,
// timestamp, unix, server) before sending; this package only fills the
// mission-specific payload.
type Frame struct {
	Type      string  `json:"type"`
	MissionID string  `json:"missionId"`
	Message   string  `json:"message,omitempty"`
	Progress  float64 `json:"progress,omitempty"`
	Result    any     `json:"result,omitempty"`
	Error     string  `json:"error,omitempty"`
}

const (
	FrameUpdate   = "mission_update"
	FrameLog      = "mission_log"
	FrameComplete = "mission_complete"
	FrameError    = "mission_error"
	FrameCanceled = "mission_canceled"
)

// Sender delivers a Frame to the owning connection. Implementations are
// expected to stamp the common outbound envelope and write it.
type Sender func(Frame)

// Executor owns all Missions keyed by (connection, mission id), guarded
// by a single mutex.
type Executor struct {
	eng    engine.Engine
	logger *slog.Logger

	breaker *circuitbreaker.Breaker
	metrics *metrics.Collector
	audit   *audit.Logger

	mu       sync.Mutex
	missions map[string]map[string]*Mission // connID -> missionID -> Mission
	limiters map[string]*ratelimit.Limiter  // connID -> mission_start limiter

	missionStartRPM int
}

// Config controls rate limiting and circuit breaker thresholds for the
// Mission Executor.
type Config struct {
	MissionStartRPM     int
	EngineFailThreshold int
	EngineCooldownSecs  int
}

func New(eng engine.Engine, cfg Config, auditLogger *audit.Logger, collector *metrics.Collector, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MissionStartRPM <= 0 {
		cfg.MissionStartRPM = 30
	}
	cooldown := time.Duration(cfg.EngineCooldownSecs) * time.Second
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Executor{
		eng:             eng,
		logger:          logger,
		breaker:         circuitbreaker.New(cfg.EngineFailThreshold, cooldown),
		metrics:         collector,
		audit:           auditLogger,
		missions:        make(map[string]map[string]*Mission),
		limiters:        make(map[string]*ratelimit.Limiter),
		missionStartRPM: cfg.MissionStartRPM,
	}
}

func (e *Executor) recordMission(status Status) {
	if e.metrics != nil {
		e.metrics.RecordMission(string(status))
	}
}

func (e *Executor) logMission(connID, missionID, eventType string, started time.Time, success bool, errMsg string) {
	if e.audit == nil {
		return
	}
	e.audit.LogMission(connID, eventType, missionID, time.Since(started), success, errMsg)
}

// ParseCommand splits a mission_start command into an optional leading
// "/mission" token and the remaining objective text.
func ParseCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	if fields[0] == "/mission" {
		return strings.Join(fields[1:], " ")
	}
	return command
}

func (e *Executor) limiterFor(connID string) *ratelimit.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	lim, ok := e.limiters[connID]
	if !ok {
		lim = ratelimit.New(e.missionStartRPM)
		e.limiters[connID] = lim
	}
	return lim
}

// Start parses command, mints a mission id, and launches execution
// concurrently, returning immediately with the mission id. send is
// invoked with every frame produced during execution, ending with
// exactly one terminal frame (mission_complete, mission_error, or
// mission_canceled) and nothing after it.
func (e *Executor) Start(ctx context.Context, connID, command string, send Sender) (string, error) {
	if err := e.breaker.Allow(); err != nil {
		return "", mcperr.Wrap(mcperr.KindEngine, mcperr.CodeInternalError, "engine unavailable", err)
	}
	limitCtx, cancelWait := context.WithTimeout(ctx, 5*time.Second)
	defer cancelWait()
	if err := e.limiterFor(connID).Wait(limitCtx); err != nil {
		return "", mcperr.Wrap(mcperr.KindProtocol, mcperr.CodeInternalError, "mission_start rate limited", err)
	}

	objective := ParseCommand(command)
	missionID := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())
	m := &Mission{ID: missionID, ConnID: connID, Status: Pending, cancel: cancel, startedAt: time.Now()}

	e.mu.Lock()
	byMission, ok := e.missions[connID]
	if !ok {
		byMission = make(map[string]*Mission)
		e.missions[connID] = byMission
	}
	byMission[missionID] = m
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordMission("started")
	}
	e.logMission(connID, missionID, audit.EventMissionStart, m.startedAt, true, "")
	go e.run(runCtx, m, objective, send)
	return missionID, nil
}

func (e *Executor) run(ctx context.Context, m *Mission, objective string, send Sender) {
	e.setStatus(m, Running)
	send(Frame{Type: FrameUpdate, MissionID: m.ID, Message: "mission started", Progress: 0})

	req := engine.Request{
		ID:        m.ID,
		Type:      engine.RequestMissionCommand,
		Method:    "mission.execute",
		Params:    map[string]any{"objective": objective},
		Timestamp: time.Now().Unix(),
	}

	result, err := e.eng.ProcessRequest(ctx, req)
	if ctx.Err() != nil {
		// Canceled while in flight: the canceler (Cancel/CancelAll) is
		// responsible for emitting the terminal frame so there is
		// exactly one, so this goroutine emits nothing further.
		e.breaker.RecordFailure(ctx.Err())
		return
	}
	if err != nil {
		e.breaker.RecordFailure(err)
		if !e.transition(m, Failed) {
			return
		}
		e.recordMission(Failed)
		e.logMission(m.ConnID, m.ID, audit.EventMissionFailed, m.startedAt, false, err.Error())
		send(Frame{Type: FrameError, MissionID: m.ID, Error: err.Error()})
		return
	}
	if !result.Success {
		e.breaker.RecordFailure(fmt.Errorf("%s", resultErrorMessage(result)))
		if !e.transition(m, Failed) {
			return
		}
		e.recordMission(Failed)
		e.logMission(m.ConnID, m.ID, audit.EventMissionFailed, m.startedAt, false, resultErrorMessage(result))
		send(Frame{Type: FrameError, MissionID: m.ID, Error: resultErrorMessage(result)})
		return
	}

	e.breaker.RecordSuccess()
	if !e.transition(m, Completed) {
		return
	}
	e.recordMission(Completed)
	e.logMission(m.ConnID, m.ID, audit.EventMissionComplete, m.startedAt, true, "")
	send(Frame{Type: FrameComplete, MissionID: m.ID, Result: result.Data})
}

func resultErrorMessage(result engine.Result) string {
	if result.Error != nil {
		return result.Error.Message
	}
	return "mission failed"
}

func (e *Executor) setStatus(m *Mission, status Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m.Status = status
}

// transition moves m to status iff it has not already reached a
// terminal state, returning whether the transition was applied. This is
// what guarantees "at most one transition out of Running" and
// "no frames after" the first terminal frame.
func (e *Executor) transition(m *Mission, status Status) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m.Status.Terminal() {
		return false
	}
	m.Status = status
	return true
}

// Cancel looks up missionID for connID and trips its cancel token. If
// the mission is unknown for that connection, it returns UnknownMission.
func (e *Executor) Cancel(connID, missionID string, send Sender) error {
	e.mu.Lock()
	byMission, ok := e.missions[connID]
	if !ok {
		e.mu.Unlock()
		return mcperr.UnknownMission(missionID)
	}
	m, ok := byMission[missionID]
	e.mu.Unlock()
	if !ok {
		return mcperr.UnknownMission(missionID)
	}

	if !e.transition(m, Canceled) {
		return nil // already terminal: cancel is a no-op, not an error
	}
	e.recordMission(Canceled)
	e.logMission(connID, missionID, audit.EventMissionCanceled, m.startedAt, true, "")
	m.cancel()
	send(Frame{Type: FrameCanceled, MissionID: m.ID})
	return nil
}

// CancelAll cancels every mission owned by connID, so that after a WS
// close every mission owned by the connection is in a terminal state.
func (e *Executor) CancelAll(connID string, send Sender) {
	e.mu.Lock()
	byMission := e.missions[connID]
	missions := make([]*Mission, 0, len(byMission))
	for _, m := range byMission {
		missions = append(missions, m)
	}
	delete(e.missions, connID)
	delete(e.limiters, connID)
	e.mu.Unlock()

	for _, m := range missions {
		if !e.transition(m, Canceled) {
			continue
		}
		e.recordMission(Canceled)
		e.logMission(connID, m.ID, audit.EventMissionCanceled, m.startedAt, true, "")
		m.cancel()
		send(Frame{Type: FrameCanceled, MissionID: m.ID})
	}
}
