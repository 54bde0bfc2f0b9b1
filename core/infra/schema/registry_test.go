package schema

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)
	reg, err := NewRegistry("redis://" + srv.Addr())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg, srv
}

func TestRegistryRoundTrip(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Register(ctx, "envelope", []byte(envelopeishSchema)); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := reg.Get(ctx, "envelope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != envelopeishSchema {
		t.Fatalf("schema body mismatch")
	}

	ids, err := reg.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || ids[0] != "envelope" {
		t.Fatalf("unexpected ids: %v", ids)
	}

	if err := reg.ValidateID(ctx, "envelope", map[string]any{
		"action_id": "a", "action_type": "echo.ping", "tenant_id": "t",
	}); err != nil {
		t.Fatalf("validate id: %v", err)
	}

	if err := reg.Delete(ctx, "envelope"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := reg.Get(ctx, "envelope"); err == nil {
		t.Fatalf("expected miss after delete")
	}
}

func TestRegistryRejectsBrokenSchema(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if err := reg.Register(context.Background(), "broken", []byte(`{"type": 12}`)); err == nil {
		t.Fatalf("expected broken schema to be rejected before publish")
	}
}

func TestRegistryRequiresID(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if err := reg.Register(context.Background(), "  ", []byte(envelopeishSchema)); err == nil {
		t.Fatalf("expected error for blank id")
	}
	if _, err := reg.Get(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty id")
	}
}
