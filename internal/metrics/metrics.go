// Package metrics collects process counters and exports them in
// Prometheus text format plus a JSON snapshot for the built-in
// metrics_tick channel: atomic counters and histogram buckets behind
// per-map mutexes, tracking per-method dispatches, mission lifecycle
// transitions, and live connections.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Collector accumulates process-wide counters for Prometheus export and
// the metrics_tick channel snapshot.
type Collector struct {
	totalRequests     atomic.Int64
	successRequests   atomic.Int64
	failedRequests    atomic.Int64
	totalConnections  atomic.Int64
	activeConnections atomic.Int64

	missionsStarted  atomic.Int64
	missionsComplete atomic.Int64
	missionsFailed   atomic.Int64
	missionsCanceled atomic.Int64

	methodRequests map[string]*atomic.Int64
	methodMu       sync.RWMutex

	durationBuckets map[float64]*atomic.Int64 // milliseconds
	durationSum     atomic.Int64
	durationCount   atomic.Int64
	durationMu      sync.RWMutex

	startTime time.Time
}

func NewCollector() *Collector {
	return &Collector{
		methodRequests:  make(map[string]*atomic.Int64),
		durationBuckets: initDurationBuckets(),
		startTime:       time.Now(),
	}
}

func initDurationBuckets() map[float64]*atomic.Int64 {
	buckets := []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	m := make(map[float64]*atomic.Int64)
	for _, b := range buckets {
		m[b] = &atomic.Int64{}
	}
	return m
}

// RecordDispatch records one JSON-RPC dispatch.
func (c *Collector) RecordDispatch(method string, duration time.Duration, success bool) {
	c.totalRequests.Add(1)
	if success {
		c.successRequests.Add(1)
	} else {
		c.failedRequests.Add(1)
	}

	c.methodMu.Lock()
	if _, ok := c.methodRequests[method]; !ok {
		c.methodRequests[method] = &atomic.Int64{}
	}
	c.methodRequests[method].Add(1)
	c.methodMu.Unlock()

	durationMs := float64(duration.Milliseconds())
	c.durationSum.Add(duration.Milliseconds())
	c.durationCount.Add(1)

	c.durationMu.RLock()
	for bucket, counter := range c.durationBuckets {
		if durationMs <= bucket {
			counter.Add(1)
		}
	}
	c.durationMu.RUnlock()
}

// RecordConnection records a Mission-Control WS connection opening or
// closing.
func (c *Collector) RecordConnection(connected bool) {
	if connected {
		c.totalConnections.Add(1)
		c.activeConnections.Add(1)
	} else {
		c.activeConnections.Add(-1)
	}
}

// RecordMission records a mission reaching one of its terminal states, or
// being started.
func (c *Collector) RecordMission(status string) {
	switch status {
	case "started":
		c.missionsStarted.Add(1)
	case "completed":
		c.missionsComplete.Add(1)
	case "failed":
		c.missionsFailed.Add(1)
	case "canceled":
		c.missionsCanceled.Add(1)
	}
}

// PrometheusFormat renders every counter in Prometheus text exposition
// format.
func (c *Collector) PrometheusFormat() string {
	var out string

	out += "# HELP mcp_requests_total Total number of JSON-RPC requests dispatched\n"
	out += "# TYPE mcp_requests_total counter\n"
	out += fmt.Sprintf("mcp_requests_total %d\n\n", c.totalRequests.Load())

	out += "# HELP mcp_requests_success_total Total number of successful JSON-RPC requests\n"
	out += "# TYPE mcp_requests_success_total counter\n"
	out += fmt.Sprintf("mcp_requests_success_total %d\n\n", c.successRequests.Load())

	out += "# HELP mcp_requests_failed_total Total number of failed JSON-RPC requests\n"
	out += "# TYPE mcp_requests_failed_total counter\n"
	out += fmt.Sprintf("mcp_requests_failed_total %d\n\n", c.failedRequests.Load())

	out += "# HELP mcp_requests_by_method_total Total number of requests per RPC method\n"
	out += "# TYPE mcp_requests_by_method_total counter\n"
	c.methodMu.RLock()
	for method, counter := range c.methodRequests {
		out += fmt.Sprintf("mcp_requests_by_method_total{method=\"%s\"} %d\n", method, counter.Load())
	}
	c.methodMu.RUnlock()
	out += "\n"

	out += "# HELP mcp_missions_started_total Total number of missions started\n"
	out += "# TYPE mcp_missions_started_total counter\n"
	out += fmt.Sprintf("mcp_missions_started_total %d\n\n", c.missionsStarted.Load())

	out += "# HELP mcp_missions_completed_total Total number of missions that completed\n"
	out += "# TYPE mcp_missions_completed_total counter\n"
	out += fmt.Sprintf("mcp_missions_completed_total %d\n\n", c.missionsComplete.Load())

	out += "# HELP mcp_missions_failed_total Total number of missions that failed\n"
	out += "# TYPE mcp_missions_failed_total counter\n"
	out += fmt.Sprintf("mcp_missions_failed_total %d\n\n", c.missionsFailed.Load())

	out += "# HELP mcp_missions_canceled_total Total number of missions canceled\n"
	out += "# TYPE mcp_missions_canceled_total counter\n"
	out += fmt.Sprintf("mcp_missions_canceled_total %d\n\n", c.missionsCanceled.Load())

	out += "# HELP mcp_connections_active Number of active Mission-Control WS connections\n"
	out += "# TYPE mcp_connections_active gauge\n"
	out += fmt.Sprintf("mcp_connections_active %d\n\n", c.activeConnections.Load())

	out += "# HELP mcp_connections_total Total number of Mission-Control WS connections opened\n"
	out += "# TYPE mcp_connections_total counter\n"
	out += fmt.Sprintf("mcp_connections_total %d\n\n", c.totalConnections.Load())

	out += "# HELP mcp_request_duration_milliseconds Request duration in milliseconds\n"
	out += "# TYPE mcp_request_duration_milliseconds histogram\n"
	c.durationMu.RLock()
	// RecordDispatch counts each dispatch in every bucket whose bound it
	// fits under, so the stored counters are already cumulative.
	for _, bucket := range []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000} {
		if counter, ok := c.durationBuckets[bucket]; ok {
			out += fmt.Sprintf("mcp_request_duration_milliseconds_bucket{le=\"%.0f\"} %d\n", bucket, counter.Load())
		}
	}
	c.durationMu.RUnlock()
	out += fmt.Sprintf("mcp_request_duration_milliseconds_bucket{le=\"+Inf\"} %d\n", c.durationCount.Load())
	out += fmt.Sprintf("mcp_request_duration_milliseconds_sum %d\n", c.durationSum.Load())
	out += fmt.Sprintf("mcp_request_duration_milliseconds_count %d\n\n", c.durationCount.Load())

	out += "# HELP mcp_uptime_seconds Uptime in seconds\n"
	out += "# TYPE mcp_uptime_seconds counter\n"
	out += fmt.Sprintf("mcp_uptime_seconds %.0f\n\n", time.Since(c.startTime).Seconds())

	return out
}

// Snapshot is the JSON-friendly view published on the metrics_tick
// channel.
type Snapshot struct {
	TotalRequests     int64            `json:"totalRequests"`
	SuccessRequests   int64            `json:"successRequests"`
	FailedRequests    int64            `json:"failedRequests"`
	ActiveConnections int64            `json:"activeConnections"`
	TotalConnections  int64            `json:"totalConnections"`
	AvgDurationMs     float64          `json:"avgDurationMs"`
	MethodRequests    map[string]int64 `json:"methodRequests"`
	MissionsStarted   int64            `json:"missionsStarted"`
	MissionsCompleted int64            `json:"missionsCompleted"`
	MissionsFailed    int64            `json:"missionsFailed"`
	MissionsCanceled  int64            `json:"missionsCanceled"`
	UptimeSeconds     float64          `json:"uptimeSeconds"`
}

func (c *Collector) Snapshot() *Snapshot {
	snap := &Snapshot{
		TotalRequests:     c.totalRequests.Load(),
		SuccessRequests:   c.successRequests.Load(),
		FailedRequests:    c.failedRequests.Load(),
		ActiveConnections: c.activeConnections.Load(),
		TotalConnections:  c.totalConnections.Load(),
		MethodRequests:    make(map[string]int64),
		MissionsStarted:   c.missionsStarted.Load(),
		MissionsCompleted: c.missionsComplete.Load(),
		MissionsFailed:    c.missionsFailed.Load(),
		MissionsCanceled:  c.missionsCanceled.Load(),
		UptimeSeconds:     time.Since(c.startTime).Seconds(),
	}
	if c.durationCount.Load() > 0 {
		snap.AvgDurationMs = float64(c.durationSum.Load()) / float64(c.durationCount.Load())
	}
	c.methodMu.RLock()
	for method, counter := range c.methodRequests {
		snap.MethodRequests[method] = counter.Load()
	}
	c.methodMu.RUnlock()
	return snap
}
