// Package subscription implements the Subscription Manager:
// per-connection subscribed-channel bookkeeping and fan-out publish,
// keyed by (connection, channel).
package subscription

import (
	"context"
	"log/slog"
	"sync"

	"github.com/oneagent/mcp-transport-core/internal/channel"
	"github.com/oneagent/mcp-transport-core/internal/mcperr"
)

// Manager tracks, per connection, which channels it is subscribed to.
type Manager struct {
	registry *channel.Registry
	logger   *slog.Logger

	mu   sync.Mutex
	subs map[string]map[string]struct{} // connID -> channel names
}

func New(registry *channel.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: registry,
		logger:   logger,
		subs:     make(map[string]map[string]struct{}),
	}
}

// Subscribe adds name to conn's subscription set and invokes the
// channel's onSubscribe hook exactly once for a new (conn, channel)
// pair. Re-subscribing to an already-subscribed channel is a no-op ack.
func (m *Manager) Subscribe(ctx context.Context, conn channel.Conn, name string) error {
	ch := m.registry.Get(name)
	if ch == nil {
		return mcperr.UnknownChannel(name)
	}

	m.mu.Lock()
	set, ok := m.subs[conn.ID()]
	if !ok {
		set = make(map[string]struct{})
		m.subs[conn.ID()] = set
	}
	_, already := set[name]
	set[name] = struct{}{}
	m.mu.Unlock()

	if already {
		return nil
	}
	if ch.OnSubscribe != nil {
		ch.OnSubscribe(ctx, conn)
	}
	return nil
}

// Unsubscribe removes name from conn's subscription set and invokes the
// channel's onUnsubscribe hook if present. Removing a channel the
// connection was never subscribed to is a silent no-op.
func (m *Manager) Unsubscribe(ctx context.Context, conn channel.Conn, name string) {
	m.mu.Lock()
	set, ok := m.subs[conn.ID()]
	if !ok {
		m.mu.Unlock()
		return
	}
	_, was := set[name]
	delete(set, name)
	m.mu.Unlock()

	if was {
		if ch := m.registry.Get(name); ch != nil && ch.OnUnsubscribe != nil {
			ch.OnUnsubscribe(ctx, conn)
		}
	}
}

// DisposeConnection invokes disposeConnection for every channel conn was
// still subscribed to, then clears its subscription set. Guarantees
// subscriptions(conn)=∅ after close.
func (m *Manager) DisposeConnection(ctx context.Context, conn channel.Conn) {
	m.mu.Lock()
	set := m.subs[conn.ID()]
	delete(m.subs, conn.ID())
	m.mu.Unlock()

	for name := range set {
		if ch := m.registry.Get(name); ch != nil && ch.DisposeConnection != nil {
			ch.DisposeConnection(ctx, conn)
		}
	}
}

// Subscribed reports whether conn is currently subscribed to name.
func (m *Manager) Subscribed(connID, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.subs[connID]
	if !ok {
		return false
	}
	_, subscribed := set[name]
	return subscribed
}

// Subscribers returns the connections currently subscribed to name, for
// fan-out publish by the channel itself.
func (m *Manager) Subscribers(name string, all map[string]channel.Conn) []channel.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []channel.Conn
	for connID, set := range m.subs {
		if _, ok := set[name]; ok {
			if conn, ok := all[connID]; ok {
				out = append(out, conn)
			}
		}
	}
	return out
}

// Publish sends payload to every connection currently subscribed to
// name, one connection at a time. Send errors are logged and otherwise
// ignored, so a failing consumer does not stop fan-out to the rest; a
// Send that blocks holds up the connections after it.
func (m *Manager) Publish(name string, payload any, all map[string]channel.Conn) {
	for _, conn := range m.Subscribers(name, all) {
		if err := conn.Send(payload); err != nil {
			m.logger.Warn("channel publish failed", "channel", name, "conn", conn.ID(), "error", err)
		}
	}
}
