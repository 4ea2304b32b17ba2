// Package eventlog implements the Event Log: a per-session circular
// buffer of SSE events supporting resume-after-id queries, capped at a
// fixed number of retained events per session.
package eventlog

import (
	"strconv"
	"sync"
	"time"
)

// Event is one SSE event on a stream within a session.
type Event struct {
	ID        string
	SessionID string
	StreamID  string
	Type      string
	Payload   []byte
	Timestamp time.Time
}

// Log owns all Events for all sessions behind a single mutex.
type Log struct {
	mu        sync.Mutex
	bySession map[string][]*Event
	nextID    map[string]int64
	maxEvents int
}

func New(maxEventsPerSession int) *Log {
	if maxEventsPerSession <= 0 {
		maxEventsPerSession = 1000
	}
	return &Log{
		bySession: make(map[string][]*Event),
		nextID:    make(map[string]int64),
		maxEvents: maxEventsPerSession,
	}
}

// Append pushes a new event for sessionID/streamID, minting a monotone
// per-session event id, and evicts the oldest event if the buffer is
// over MaxEventsPerSession.
func (l *Log) Append(sessionID, streamID, eventType string, payload []byte) *Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID[sessionID]++
	id := l.nextID[sessionID]

	ev := &Event{
		ID:        strconv.FormatInt(id, 10),
		SessionID: sessionID,
		StreamID:  streamID,
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	events := append(l.bySession[sessionID], ev)
	if len(events) > l.maxEvents {
		events = events[len(events)-l.maxEvents:]
	}
	l.bySession[sessionID] = events
	return ev
}

// After locates the event with id=lastEventID within sessionID and
// returns the successors filtered by streamID, in append order. If the
// id is not present (evicted or never existed), it returns an empty
// slice — the caller is expected to log a warning.
func (l *Log) After(sessionID, streamID, lastEventID string) []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.bySession[sessionID]
	if lastEventID == "" {
		return filterStream(events, streamID)
	}

	idx := -1
	for i, ev := range events {
		if ev.ID == lastEventID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil
	}
	return filterStream(events[idx+1:], streamID)
}

func filterStream(events []*Event, streamID string) []*Event {
	if streamID == "" {
		out := make([]*Event, len(events))
		copy(out, events)
		return out
	}
	var out []*Event
	for _, ev := range events {
		if ev.StreamID == streamID {
			out = append(out, ev)
		}
	}
	return out
}

// BySession returns a full copy of a session's event list.
func (l *Log) BySession(sessionID string) []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.bySession[sessionID]
	out := make([]*Event, len(events))
	copy(out, events)
	return out
}

// CleanupOlderThan drops events older than maxAge and deletes now-empty
// session keys, returning the count of events removed.
func (l *Log) CleanupOlderThan(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for sessionID, events := range l.bySession {
		kept := events[:0:0]
		for _, ev := range events {
			if ev.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, ev)
		}
		if len(kept) == 0 {
			delete(l.bySession, sessionID)
			delete(l.nextID, sessionID)
		} else {
			l.bySession[sessionID] = kept
		}
	}
	return removed
}

// ClearSession removes all events (and the id counter) for a session,
// called on session deletion.
func (l *Log) ClearSession(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.bySession, sessionID)
	delete(l.nextID, sessionID)
}
