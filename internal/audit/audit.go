// Package audit implements the optional SQLite-backed audit sink for
// mission and session lifecycle events. Off by default; when enabled it
// is fed by the dispatcher, mission executor, and WS transport, and is
// never load-bearing for the in-memory session/mission contract. Events
// are buffered and batch-inserted on a background flush ticker.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// EventType enumerates the kinds of lifecycle event this sink records.
const (
	EventDispatch        = "dispatch"
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventMissionStart    = "mission_start"
	EventMissionComplete = "mission_complete"
	EventMissionFailed   = "mission_failed"
	EventMissionCanceled = "mission_canceled"
)

// Event is one audit log entry.
type Event struct {
	ID         int64                  `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	SessionID  string                 `json:"sessionId"`
	EventType  string                 `json:"eventType"`
	Method     string                 `json:"method,omitempty"`
	MissionID  string                 `json:"missionId,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty"`
	DurationMs int64                  `json:"durationMs,omitempty"`
	Success    bool                   `json:"success"`
	ErrorMsg   string                 `json:"errorMsg,omitempty"`
	ClientAddr string                 `json:"clientAddr,omitempty"`
}

// Logger buffers audit events and flushes them to SQLite in batches.
type Logger struct {
	db          *sql.DB
	mu          sync.Mutex
	batchSize   int
	flushTicker *time.Ticker
	buffer      []Event
	bufferMu    sync.Mutex
	feed        *Feed
}

// NewLogger opens (creating if absent) the SQLite database at dbPath and
// starts the background flusher.
func NewLogger(dbPath string) (*Logger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		session_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		method TEXT,
		mission_id TEXT,
		params TEXT,
		duration_ms INTEGER,
		success BOOLEAN NOT NULL,
		error_msg TEXT,
		client_addr TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_events(session_id);
	CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_mission_id ON audit_events(mission_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger := &Logger{
		db:        db,
		batchSize: 100,
		buffer:    make([]Event, 0, 100),
		feed:      newFeed(),
	}

	logger.flushTicker = time.NewTicker(5 * time.Second)
	go logger.backgroundFlush()

	return logger, nil
}

// LogDispatch records one JSON-RPC dispatch outcome.
func (l *Logger) LogDispatch(ctx context.Context, sessionID, method string, params map[string]interface{}, duration time.Duration, success bool, errMsg, clientAddr string) {
	l.bufferEvent(Event{
		Timestamp:  time.Now(),
		SessionID:  sessionID,
		EventType:  EventDispatch,
		Method:     method,
		Params:     params,
		DurationMs: duration.Milliseconds(),
		Success:    success,
		ErrorMsg:   errMsg,
		ClientAddr: clientAddr,
	})
}

// LogMission records a mission lifecycle transition.
func (l *Logger) LogMission(sessionID, eventType, missionID string, duration time.Duration, success bool, errMsg string) {
	l.bufferEvent(Event{
		Timestamp:  time.Now(),
		SessionID:  sessionID,
		EventType:  eventType,
		MissionID:  missionID,
		DurationMs: duration.Milliseconds(),
		Success:    success,
		ErrorMsg:   errMsg,
	})
}

// LogConnection records a Mission-Control WS connection opening or
// closing.
func (l *Logger) LogConnection(sessionID, clientAddr string, connected bool) {
	eventType := EventConnect
	if !connected {
		eventType = EventDisconnect
	}
	l.bufferEvent(Event{
		Timestamp:  time.Now(),
		SessionID:  sessionID,
		EventType:  eventType,
		Success:    true,
		ClientAddr: clientAddr,
	})
}

// Events returns the live event feed for real-time subscribers (e.g.
// the mission_stats built-in channel).
func (l *Logger) Events() *Feed {
	return l.feed
}

func (l *Logger) bufferEvent(event Event) {
	l.feed.publish(event)

	l.bufferMu.Lock()
	defer l.bufferMu.Unlock()

	l.buffer = append(l.buffer, event)
	if len(l.buffer) >= l.batchSize {
		go l.Flush()
	}
}

// Flush writes all buffered events to the database in one transaction.
func (l *Logger) Flush() error {
	l.bufferMu.Lock()
	if len(l.buffer) == 0 {
		l.bufferMu.Unlock()
		return nil
	}
	events := make([]Event, len(l.buffer))
	copy(events, l.buffer)
	l.buffer = l.buffer[:0]
	l.bufferMu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO audit_events (
			timestamp, session_id, event_type, method, mission_id, params,
			duration_ms, success, error_msg, client_addr
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		var paramsJSON []byte
		if event.Params != nil {
			paramsJSON, _ = json.Marshal(event.Params)
		}
		_, err := stmt.Exec(
			event.Timestamp,
			event.SessionID,
			event.EventType,
			event.Method,
			event.MissionID,
			string(paramsJSON),
			event.DurationMs,
			event.Success,
			event.ErrorMsg,
			event.ClientAddr,
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	return tx.Commit()
}

func (l *Logger) backgroundFlush() {
	for range l.flushTicker.C {
		_ = l.Flush()
	}
}

// QueryOptions filters a Query call.
type QueryOptions struct {
	SessionID string
	EventType string
	Method    string
	MissionID string
	StartTime time.Time
	EndTime   time.Time
	Success   *bool
	Limit     int
	Offset    int
	OrderBy   string // "timestamp", "duration_ms"
	OrderDir  string // "ASC", "DESC"
}

// Query retrieves audit events matching opts.
func (l *Logger) Query(opts QueryOptions) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	query := `
		SELECT id, timestamp, session_id, event_type, method, mission_id, params,
		       duration_ms, success, error_msg, client_addr
		FROM audit_events
		WHERE 1=1
	`
	args := make([]interface{}, 0)

	if opts.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, opts.SessionID)
	}
	if opts.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, opts.EventType)
	}
	if opts.Method != "" {
		query += " AND method = ?"
		args = append(args, opts.Method)
	}
	if opts.MissionID != "" {
		query += " AND mission_id = ?"
		args = append(args, opts.MissionID)
	}
	if !opts.StartTime.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, opts.StartTime)
	}
	if !opts.EndTime.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, opts.EndTime)
	}
	if opts.Success != nil {
		query += " AND success = ?"
		args = append(args, *opts.Success)
	}

	orderBy := "timestamp"
	if opts.OrderBy != "" {
		orderBy = opts.OrderBy
	}
	orderDir := "DESC"
	if opts.OrderDir != "" {
		orderDir = opts.OrderDir
	}
	query += fmt.Sprintf(" ORDER BY %s %s", orderBy, orderDir)

	limit := 100
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, opts.Offset)

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var paramsJSON sql.NullString
		if err := rows.Scan(
			&event.ID, &event.Timestamp, &event.SessionID, &event.EventType,
			&event.Method, &event.MissionID, &paramsJSON,
			&event.DurationMs, &event.Success, &event.ErrorMsg, &event.ClientAddr,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if paramsJSON.Valid && paramsJSON.String != "" {
			_ = json.Unmarshal([]byte(paramsJSON.String), &event.Params)
		}
		events = append(events, event)
	}

	return events, nil
}

// Stats is the aggregate view returned by GetStats, served at the
// /audit/stats HTTP endpoint.
type Stats struct {
	TotalDispatches   int64          `json:"totalDispatches"`
	Successful        int64          `json:"successful"`
	Failed            int64          `json:"failed"`
	ErrorRate         float64        `json:"errorRate"`
	AvgDurationMs     int64          `json:"avgDurationMs"`
	MaxDurationMs     int64          `json:"maxDurationMs"`
	MissionsStarted   int64          `json:"missionsStarted"`
	MissionsCompleted int64          `json:"missionsCompleted"`
	MissionsFailed    int64          `json:"missionsFailed"`
	MissionsCanceled  int64          `json:"missionsCanceled"`
	TopMethods        []MethodStats  `json:"topMethods"`
	RecentEvents      []Event        `json:"recentEvents"`
}

// MethodStats is per-RPC-method aggregation within Stats.
type MethodStats struct {
	Method    string  `json:"method"`
	Calls     int64   `json:"calls"`
	Errors    int64   `json:"errors"`
	ErrorRate float64 `json:"errorRate"`
	AvgMs     int64   `json:"avgMs"`
}

// GetStats aggregates dispatch and mission counters since the given
// time, optionally scoped to one session.
func (l *Logger) GetStats(sessionID string, since time.Time) (*Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	baseWhere := "WHERE event_type = 'dispatch'"
	args := make([]interface{}, 0)
	if sessionID != "" {
		baseWhere += " AND session_id = ?"
		args = append(args, sessionID)
	}
	if !since.IsZero() {
		baseWhere += " AND timestamp >= ?"
		args = append(args, since)
	}

	var stats Stats
	var avgDuration sql.NullFloat64
	totalsQuery := `
		SELECT
			COUNT(*),
			SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END),
			SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END),
			AVG(CASE WHEN duration_ms > 0 THEN duration_ms ELSE NULL END),
			MAX(duration_ms)
		FROM audit_events ` + baseWhere

	if err := l.db.QueryRow(totalsQuery, args...).Scan(
		&stats.TotalDispatches, &stats.Successful, &stats.Failed, &avgDuration, &stats.MaxDurationMs,
	); err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	if avgDuration.Valid {
		stats.AvgDurationMs = int64(avgDuration.Float64)
	}
	if stats.TotalDispatches > 0 {
		stats.ErrorRate = float64(stats.Failed) / float64(stats.TotalDispatches) * 100
	}

	methodsQuery := `
		SELECT COALESCE(method, '(unknown)'), COUNT(*),
		       SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END),
		       AVG(CASE WHEN duration_ms > 0 THEN duration_ms ELSE NULL END)
		FROM audit_events ` + baseWhere + `
		GROUP BY method
		ORDER BY COUNT(*) DESC
		LIMIT 10`

	rows, err := l.db.Query(methodsQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("query top methods: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m MethodStats
		var avgMs sql.NullFloat64
		if err := rows.Scan(&m.Method, &m.Calls, &m.Errors, &avgMs); err != nil {
			return nil, fmt.Errorf("scan method stats: %w", err)
		}
		if avgMs.Valid {
			m.AvgMs = int64(avgMs.Float64)
		}
		if m.Calls > 0 {
			m.ErrorRate = float64(m.Errors) / float64(m.Calls) * 100
		}
		stats.TopMethods = append(stats.TopMethods, m)
	}

	missionCounts := []struct {
		eventType string
		dest      *int64
	}{
		{EventMissionStart, &stats.MissionsStarted},
		{EventMissionComplete, &stats.MissionsCompleted},
		{EventMissionFailed, &stats.MissionsFailed},
		{EventMissionCanceled, &stats.MissionsCanceled},
	}
	for _, mc := range missionCounts {
		q := "SELECT COUNT(*) FROM audit_events WHERE event_type = ?"
		a := []interface{}{mc.eventType}
		if sessionID != "" {
			q += " AND session_id = ?"
			a = append(a, sessionID)
		}
		if !since.IsZero() {
			q += " AND timestamp >= ?"
			a = append(a, since)
		}
		if err := l.db.QueryRow(q, a...).Scan(mc.dest); err != nil {
			return nil, fmt.Errorf("query mission count %s: %w", mc.eventType, err)
		}
	}

	recentQuery := `
		SELECT id, timestamp, session_id, event_type, method, mission_id, params,
		       duration_ms, success, error_msg, client_addr
		FROM audit_events
		ORDER BY timestamp DESC
		LIMIT 20`
	rows2, err := l.db.Query(recentQuery)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows2.Close()
	for rows2.Next() {
		var event Event
		var paramsJSON sql.NullString
		if err := rows2.Scan(
			&event.ID, &event.Timestamp, &event.SessionID, &event.EventType,
			&event.Method, &event.MissionID, &paramsJSON,
			&event.DurationMs, &event.Success, &event.ErrorMsg, &event.ClientAddr,
		); err != nil {
			return nil, fmt.Errorf("scan recent event: %w", err)
		}
		if paramsJSON.Valid && paramsJSON.String != "" {
			_ = json.Unmarshal([]byte(paramsJSON.String), &event.Params)
		}
		stats.RecentEvents = append(stats.RecentEvents, event)
	}

	return &stats, nil
}

// Close flushes any remaining buffered events and closes the database.
func (l *Logger) Close() error {
	if l.flushTicker != nil {
		l.flushTicker.Stop()
	}
	if err := l.Flush(); err != nil {
		return err
	}
	return l.db.Close()
}
