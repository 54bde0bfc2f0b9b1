package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/weftworks/weft/core/bus"
)

func newTestUsage(t *testing.T) (*UsageStore, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)
	rc := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { rc.Close() })
	return NewUsageStore(rc, time.Hour), srv
}

func callbackEnvelope(t *testing.T, sessionID, tenantID, taskID string, payload any) *bus.Envelope {
	t.Helper()
	env, err := bus.NewEnvelope(CallbackActionType, tenantID, sessionID, "weft-worker-echo", payload)
	if err != nil {
		t.Fatalf("build callback envelope: %v", err)
	}
	env.TaskID = taskID
	return env
}

func TestCallbackCompletedDeliversResponse(t *testing.T) {
	registry := newTestRegistry()
	usage, _ := newTestUsage(t)
	router := NewCallbackRouter(registry, usage)
	ctx := context.Background()

	tr := &fakeTransport{}
	if _, err := registry.Connect(tr, "s-1", "t-1", "", ""); err != nil {
		t.Fatalf("connect: %v", err)
	}

	env := callbackEnvelope(t, "s-1", "t-1", "task-1", map[string]any{
		"status":            "completed",
		"result":            map[string]string{"response": "hi"},
		"execution_time_ms": 12.5,
	})
	result, err := router.Handle(ctx, env)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if delivered := result.(map[string]any)["delivered"]; delivered != true {
		t.Fatalf("expected delivered=true, got %v", delivered)
	}

	msgs := tr.messages(t)
	got := msgs[len(msgs)-1]
	if got.Type != MessageResponse {
		t.Fatalf("message type = %s, want response", got.Type)
	}
	if got.TaskID != "task-1" || got.TenantID != "t-1" || got.SessionID != "s-1" {
		t.Fatalf("message not scoped: %+v", got)
	}
	var data map[string]string
	if err := json.Unmarshal(got.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data["response"] != "hi" {
		t.Fatalf("result not forwarded: %v", data)
	}

	day := time.Now().UTC().Format("2006-01-02")
	total, err := usage.Counter(ctx, "t-1", day, "total")
	if err != nil || total != 1 {
		t.Fatalf("total counter = %d (%v), want 1", total, err)
	}
	completed, err := usage.Counter(ctx, "t-1", day, "status_completed")
	if err != nil || completed != 1 {
		t.Fatalf("status_completed counter = %d (%v), want 1", completed, err)
	}
	samples, err := usage.Samples(ctx, "t-1", day)
	if err != nil || len(samples) != 1 || samples[0] != 12.5 {
		t.Fatalf("samples = %v (%v), want [12.5]", samples, err)
	}
}

func TestCallbackFailedDeliversError(t *testing.T) {
	registry := newTestRegistry()
	router := NewCallbackRouter(registry, nil)

	tr := &fakeTransport{}
	if _, err := registry.Connect(tr, "s-1", "t-1", "", ""); err != nil {
		t.Fatalf("connect: %v", err)
	}

	env := callbackEnvelope(t, "s-1", "t-1", "task-1", map[string]any{
		"status": "failed",
		"error":  map[string]string{"type": "handler_error", "message": "echo blew up"},
	})
	if _, err := router.Handle(context.Background(), env); err != nil {
		t.Fatalf("handle: %v", err)
	}

	msgs := tr.messages(t)
	got := msgs[len(msgs)-1]
	if got.Type != MessageError {
		t.Fatalf("message type = %s, want error", got.Type)
	}
	var data map[string]string
	if err := json.Unmarshal(got.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data["message"] != "echo blew up" {
		t.Fatalf("error detail lost: %v", data)
	}
}

func TestCallbackUnknownStatusBecomesStatusUpdate(t *testing.T) {
	registry := newTestRegistry()
	router := NewCallbackRouter(registry, nil)

	tr := &fakeTransport{}
	if _, err := registry.Connect(tr, "s-1", "t-1", "", ""); err != nil {
		t.Fatalf("connect: %v", err)
	}

	env := callbackEnvelope(t, "s-1", "t-1", "", map[string]string{"status": "queued"})
	if _, err := router.Handle(context.Background(), env); err != nil {
		t.Fatalf("handle: %v", err)
	}

	msgs := tr.messages(t)
	got := msgs[len(msgs)-1]
	if got.Type != MessageStatusUpdate {
		t.Fatalf("message type = %s, want status_update", got.Type)
	}
	var data map[string]string
	if err := json.Unmarshal(got.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data["status"] != "queued" {
		t.Fatalf("status not forwarded: %v", data)
	}
}

func TestCallbackWithoutListenerStillRecordsUsage(t *testing.T) {
	registry := newTestRegistry()
	usage, _ := newTestUsage(t)
	router := NewCallbackRouter(registry, usage)
	ctx := context.Background()

	env := callbackEnvelope(t, "s-gone", "t-1", "task-1", map[string]string{"status": "completed"})
	result, err := router.Handle(ctx, env)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if delivered := result.(map[string]any)["delivered"]; delivered != false {
		t.Fatalf("expected delivered=false, got %v", delivered)
	}

	day := time.Now().UTC().Format("2006-01-02")
	total, err := usage.Counter(ctx, "t-1", day, "total")
	if err != nil || total != 1 {
		t.Fatalf("total counter = %d (%v), want 1", total, err)
	}
}

func TestCallbackUsageFailureDoesNotFailHandler(t *testing.T) {
	registry := newTestRegistry()
	usage, srv := newTestUsage(t)
	router := NewCallbackRouter(registry, usage)
	srv.Close()

	env := callbackEnvelope(t, "s-1", "t-1", "", map[string]string{"status": "completed"})
	if _, err := router.Handle(context.Background(), env); err != nil {
		t.Fatalf("usage failure must stay out of the reply path: %v", err)
	}
}
