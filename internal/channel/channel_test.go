package channel

import (
	"context"
	"testing"
)

type fakeConn struct {
	id   string
	sent []any
}

func (c *fakeConn) ID() string { return c.id }
func (c *fakeConn) Send(frame any) error {
	c.sent = append(c.sent, frame)
	return nil
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Channel{Name: "a"}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register(&Channel{Name: "a"}); err == nil {
		t.Fatal("expected error registering duplicate channel name")
	}
}

func TestGetUnregisteredReturnsNil(t *testing.T) {
	r := NewRegistry()
	if got := r.Get("missing"); got != nil {
		t.Errorf("Get(missing) = %+v, want nil", got)
	}
}

func TestList(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&Channel{Name: "a"})
	_ = r.Register(&Channel{Name: "b"})

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List() = %v, want 2 entries", names)
	}
}

func TestHooksAreInvokable(t *testing.T) {
	var subscribed, unsubscribed, disposed bool
	ch := &Channel{
		Name:              "hooked",
		OnSubscribe:       func(ctx context.Context, c Conn) { subscribed = true },
		OnUnsubscribe:     func(ctx context.Context, c Conn) { unsubscribed = true },
		DisposeConnection: func(ctx context.Context, c Conn) { disposed = true },
	}
	conn := &fakeConn{id: "c1"}
	ch.OnSubscribe(context.Background(), conn)
	ch.OnUnsubscribe(context.Background(), conn)
	ch.DisposeConnection(context.Background(), conn)

	if !subscribed || !unsubscribed || !disposed {
		t.Errorf("hooks not all invoked: subscribed=%v unsubscribed=%v disposed=%v", subscribed, unsubscribed, disposed)
	}
}
