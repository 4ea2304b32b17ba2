// Package channel implements the Channel Registry: named publishers
// with onSubscribe/onUnsubscribe/disposeConnection hooks, looked up by
// the subscription manager when connections subscribe.
package channel

import (
	"context"
	"sync"

	"github.com/oneagent/mcp-transport-core/internal/mcperr"
)

// Conn is the minimal connection identity a Channel's hooks need. The
// transport layer supplies the concrete implementation (the WS
// connection wrapper); channels never depend on transport internals.
type Conn interface {
	ID() string
	Send(frame any) error
}

// Channel is a named publisher with optional lifecycle hooks. Per spec
// §4.6, hooks must be non-blocking — any long work must be scheduled by
// the implementation itself (e.g. onto a goroutine or ticker already
// running independently of the hook call).
type Channel struct {
	Name              string
	OnSubscribe       func(ctx context.Context, conn Conn)
	OnUnsubscribe     func(ctx context.Context, conn Conn)
	DisposeConnection func(ctx context.Context, conn Conn)
}

// Registry stores Channels by name behind a single mutex.
type Registry struct {
	mu     sync.Mutex
	byName map[string]*Channel
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Channel)}
}

// Register inserts a channel, failing if the name is already taken.
func (r *Registry) Register(ch *Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[ch.Name]; exists {
		return mcperr.New(mcperr.KindProtocol, mcperr.Code("channel_exists"), "channel already registered: "+ch.Name)
	}
	r.byName[ch.Name] = ch
	return nil
}

// Get returns the channel with name, or nil if unregistered.
func (r *Registry) Get(name string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byName[name]
}

// List returns every registered channel name.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}
