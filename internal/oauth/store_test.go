package oauth

import "testing"

func TestRegisterClientAndCount(t *testing.T) {
	s := NewStore()
	if got := s.ClientCount(); got != 0 {
		t.Fatalf("ClientCount() on empty store = %d, want 0", got)
	}

	c := s.RegisterClient("client-1", "demo agent")
	if c.ID != "client-1" || c.Name != "demo agent" {
		t.Errorf("RegisterClient() = %+v, want ID=client-1 Name=demo agent", c)
	}
	if got := s.ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1", got)
	}

	s.RegisterClient("client-2", "second")
	if got := s.ClientCount(); got != 2 {
		t.Errorf("ClientCount() after second register = %d, want 2", got)
	}
}

func TestGetClient(t *testing.T) {
	s := NewStore()
	s.RegisterClient("known", "known agent")

	if got := s.GetClient("known"); got == nil || got.Name != "known agent" {
		t.Errorf("GetClient(known) = %+v, want known agent", got)
	}
	if got := s.GetClient("missing"); got != nil {
		t.Errorf("GetClient(missing) = %+v, want nil", got)
	}
}

func TestRegisterClientOverwritesByID(t *testing.T) {
	s := NewStore()
	s.RegisterClient("dup", "first")
	s.RegisterClient("dup", "second")

	if got := s.ClientCount(); got != 1 {
		t.Errorf("ClientCount() after re-registering same id = %d, want 1", got)
	}
	if got := s.GetClient("dup"); got.Name != "second" {
		t.Errorf("GetClient(dup).Name = %q, want second", got.Name)
	}
}
