package channels

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/oneagent/mcp-transport-core/internal/audit"
	"github.com/oneagent/mcp-transport-core/internal/channel"
	"github.com/oneagent/mcp-transport-core/internal/metrics"
	"github.com/oneagent/mcp-transport-core/internal/session"
)

type recordingPublisher struct {
	mu   sync.Mutex
	recv map[string][]any
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{recv: make(map[string][]any)}
}

func (p *recordingPublisher) Publish(name string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recv[name] = append(p.recv[name], payload)
}

func (p *recordingPublisher) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.recv[name])
}

func TestRegisterBuiltinsRegistersAllChannels(t *testing.T) {
	registry := channel.NewRegistry()
	sessions := session.New(time.Hour, time.Hour, nil)
	defer sessions.Close()
	collector := metrics.NewCollector()
	pub := newRecordingPublisher()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := RegisterBuiltins(ctx, registry, pub, sessions, collector, nil, Config{
		HealthInterval:  20 * time.Millisecond,
		MetricsInterval: 20 * time.Millisecond,
	}, nil); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}

	for _, name := range []string{HealthDelta, MetricsTick, MissionStats} {
		if registry.Get(name) == nil {
			t.Errorf("channel %q not registered", name)
		}
	}
}

func TestMetricsTickPublishesPeriodically(t *testing.T) {
	registry := channel.NewRegistry()
	sessions := session.New(time.Hour, time.Hour, nil)
	defer sessions.Close()
	collector := metrics.NewCollector()
	pub := newRecordingPublisher()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := RegisterBuiltins(ctx, registry, pub, sessions, collector, nil, Config{
		HealthInterval:  time.Hour,
		MetricsInterval: 10 * time.Millisecond,
	}, nil); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}

	deadline := time.After(time.Second)
	for pub.count(MetricsTick) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for metrics_tick publish")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestMissionStatsPublishesOnLifecycleEvent(t *testing.T) {
	registry := channel.NewRegistry()
	sessions := session.New(time.Hour, time.Hour, nil)
	defer sessions.Close()
	collector := metrics.NewCollector()
	pub := newRecordingPublisher()

	dbPath := filepath.Join(t.TempDir(), "audit.db")
	auditLogger, err := audit.NewLogger(dbPath)
	if err != nil {
		t.Fatalf("audit.NewLogger: %v", err)
	}
	defer auditLogger.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := RegisterBuiltins(ctx, registry, pub, sessions, collector, auditLogger, Config{
		HealthInterval:  time.Hour,
		MetricsInterval: time.Hour,
	}, nil); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}

	auditLogger.LogMission("sess-1", audit.EventMissionStart, "mission-1", 0, true, "")

	deadline := time.After(time.Second)
	for pub.count(MissionStats) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for mission_stats publish")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
