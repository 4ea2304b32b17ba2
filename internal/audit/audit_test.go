package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	logger, err := NewLogger(dbPath)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func TestLogDispatchAndQuery(t *testing.T) {
	logger := newTestLogger(t)
	ctx := context.Background()

	logger.LogDispatch(ctx, "sess-1", "tools/call", map[string]interface{}{"name": "echo"}, 12*time.Millisecond, true, "", "127.0.0.1")
	logger.LogDispatch(ctx, "sess-1", "tools/call", nil, 40*time.Millisecond, false, "engine error", "127.0.0.1")
	if err := logger.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	events, err := logger.Query(QueryOptions{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Query returned %d events, want 2", len(events))
	}
	for _, ev := range events {
		if ev.Method != "tools/call" {
			t.Errorf("event method = %q, want tools/call", ev.Method)
		}
	}
}

func TestLogMissionLifecycle(t *testing.T) {
	logger := newTestLogger(t)

	logger.LogMission("sess-1", EventMissionStart, "mission-1", 0, true, "")
	logger.LogMission("sess-1", EventMissionComplete, "mission-1", 2*time.Second, true, "")
	if err := logger.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	events, err := logger.Query(QueryOptions{MissionID: "mission-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Query returned %d events, want 2", len(events))
	}
}

func TestGetStats(t *testing.T) {
	logger := newTestLogger(t)
	ctx := context.Background()

	logger.LogDispatch(ctx, "sess-1", "initialize", nil, 5*time.Millisecond, true, "", "")
	logger.LogDispatch(ctx, "sess-1", "tools/call", nil, 10*time.Millisecond, true, "", "")
	logger.LogDispatch(ctx, "sess-1", "tools/call", nil, 20*time.Millisecond, false, "boom", "")
	logger.LogMission("sess-1", EventMissionStart, "mission-1", 0, true, "")
	logger.LogMission("sess-1", EventMissionComplete, "mission-1", time.Second, true, "")
	if err := logger.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	stats, err := logger.GetStats("sess-1", time.Time{})
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalDispatches != 3 {
		t.Errorf("TotalDispatches = %d, want 3", stats.TotalDispatches)
	}
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
	if stats.MissionsStarted != 1 || stats.MissionsCompleted != 1 {
		t.Errorf("unexpected mission counts: %+v", stats)
	}
	if len(stats.TopMethods) == 0 {
		t.Error("expected non-empty TopMethods")
	}
}

func TestEventFeedPublishesOnLog(t *testing.T) {
	logger := newTestLogger(t)
	id, ch := logger.Events().Subscribe()
	defer logger.Events().Unsubscribe(id)

	logger.LogMission("sess-1", EventMissionStart, "mission-1", 0, true, "")

	select {
	case ev := <-ch:
		if ev.EventType != EventMissionStart {
			t.Errorf("EventType = %q, want %q", ev.EventType, EventMissionStart)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for feed event")
	}
}
