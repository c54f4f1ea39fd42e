package core

import "testing"

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.IdentityOf("c1"); ok {
		t.Fatalf("expected miss on empty registry")
	}

	r.Register("c1", "u1")
	r.Register("c1", "u2")
	if got, ok := r.IdentityOf("c1"); !ok || got != "u2" {
		t.Fatalf("expected latest binding u2, got %q (ok=%v)", got, ok)
	}

	r.Unregister("c1")
	if _, ok := r.IdentityOf("c1"); ok {
		t.Fatalf("expected miss after unregister")
	}
}

func TestRegistryUnregisterIsIdempotent(t *testing.T) {
	once := NewRegistry()
	twice := NewRegistry()
	for _, r := range []*Registry{once, twice} {
		r.Register("c1", "u1")
		r.Register("c2", "u2")
	}

	once.Unregister("c1")
	twice.Unregister("c1")
	twice.Unregister("c1")
	twice.Unregister("never-registered")

	if once.Len() != twice.Len() {
		t.Fatalf("expected equal sizes, got %d and %d", once.Len(), twice.Len())
	}
	for conn, user := range once.Bindings() {
		if got, ok := twice.IdentityOf(conn); !ok || got != user {
			t.Fatalf("binding %s diverged: %q vs %q", conn, user, got)
		}
	}
}

func TestRegistryAllowsSameUserOnSeveralConnections(t *testing.T) {
	r := NewRegistry()
	r.Register("phone", "u1")
	r.Register("laptop", "u1")

	tests := []struct {
		conn string
		want string
	}{
		{conn: "phone", want: "u1"},
		{conn: "laptop", want: "u1"},
	}
	for _, tt := range tests {
		if got, ok := r.IdentityOf(tt.conn); !ok || got != tt.want {
			t.Fatalf("IdentityOf(%s) = %q, %v; want %q", tt.conn, got, ok, tt.want)
		}
	}
	if r.Len() != 2 {
		t.Fatalf("expected two bindings, got %d", r.Len())
	}
}
