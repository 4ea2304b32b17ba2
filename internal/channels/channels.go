// Package channels implements the three built-in Mission-Control
// channels: health_delta, metrics_tick, and mission_stats. The two
// periodic ones run on plain tickers; mission_stats forwards off the
// audit event feed. The intervals are server defaults, not a wire
// contract.
package channels

import (
	"context"
	"log/slog"
	"time"

	"github.com/oneagent/mcp-transport-core/internal/audit"
	"github.com/oneagent/mcp-transport-core/internal/channel"
	"github.com/oneagent/mcp-transport-core/internal/metrics"
	"github.com/oneagent/mcp-transport-core/internal/session"
)

// Publisher fans a named channel's payload out to every subscribed
// connection. *wstransport.Server satisfies this.
type Publisher interface {
	Publish(name string, payload any)
}

const (
	HealthDelta  = "health_delta"
	MetricsTick  = "metrics_tick"
	MissionStats = "mission_stats"
)

// Config controls the two periodic channels' tick intervals.
type Config struct {
	HealthInterval  time.Duration
	MetricsInterval time.Duration
}

// RegisterBuiltins registers the three built-in channels on registry and
// starts their background emitters, all scoped to ctx — canceling ctx
// stops every emitter goroutine. Safe to call once at startup, after the
// Session Store, Metrics Collector, and Audit Logger (if any) exist.
func RegisterBuiltins(ctx context.Context, registry *channel.Registry, pub Publisher, sessions *session.Store, collector *metrics.Collector, auditLogger *audit.Logger, cfg Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 10 * time.Second
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = 15 * time.Second
	}

	if err := registry.Register(&channel.Channel{Name: HealthDelta}); err != nil {
		return err
	}
	if err := registry.Register(&channel.Channel{Name: MetricsTick}); err != nil {
		return err
	}
	if err := registry.Register(&channel.Channel{Name: MissionStats}); err != nil {
		return err
	}

	go runHealthDelta(ctx, pub, sessions, cfg.HealthInterval, logger)
	go runMetricsTick(ctx, pub, collector, cfg.MetricsInterval, logger)
	if auditLogger != nil {
		// Subscribe before returning: the feed delivers only to listeners
		// registered at publish time, so events logged right after startup
		// would otherwise be missed.
		id, events := auditLogger.Events().Subscribe()
		go runMissionStats(ctx, pub, auditLogger, id, events, logger)
	}
	return nil
}

// healthPayload is published only when the active session count changes
// since the previous tick, hence "delta" rather than a bare poll.
type healthPayload struct {
	ActiveSessions int   `json:"activeSessions"`
	Delta          int   `json:"delta"`
	Timestamp      int64 `json:"timestamp"`
}

func runHealthDelta(ctx context.Context, pub Publisher, sessions *session.Store, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := len(sessions.ListActive())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active := len(sessions.ListActive())
			delta := active - last
			if delta == 0 {
				continue
			}
			last = active
			pub.Publish(HealthDelta, healthPayload{
				ActiveSessions: active,
				Delta:          delta,
				Timestamp:      time.Now().Unix(),
			})
		}
	}
}

func runMetricsTick(ctx context.Context, pub Publisher, collector *metrics.Collector, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pub.Publish(MetricsTick, collector.Snapshot())
		}
	}
}

// missionStatsPayload republishes one mission lifecycle event (start,
// complete, fail, cancel) as it arrives on the audit feed, rather than on
// a fixed cadence. It carries the event only; no aggregate is attached.
type missionStatsPayload struct {
	Event audit.Event `json:"event"`
}

func runMissionStats(ctx context.Context, pub Publisher, auditLogger *audit.Logger, id uint64, events <-chan audit.Event, logger *slog.Logger) {
	defer auditLogger.Events().Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.EventType {
			case audit.EventMissionStart, audit.EventMissionComplete, audit.EventMissionFailed, audit.EventMissionCanceled:
				pub.Publish(MissionStats, missionStatsPayload{Event: ev})
			}
		}
	}
}
