package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestClient(t *testing.T, origin string) (*Client, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)
	client, err := NewClient("redis://"+srv.Addr(), origin, WithReplyTTL(30*time.Second))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, srv
}

func TestFireAndForgetEnqueues(t *testing.T) {
	client, srv := newTestClient(t, "tester")
	ctx := context.Background()

	env, err := client.Build("echo.ping", "t-1", "s-1", map[string]string{"msg": "hi"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if env.OriginService != "tester" {
		t.Fatalf("origin not stamped: %s", env.OriginService)
	}
	if err := client.FireAndForget(ctx, env, ""); err != nil {
		t.Fatalf("fire and forget: %v", err)
	}

	raw, err := srv.Lpop("echo.t-1.actions")
	if err != nil {
		t.Fatalf("queue empty: %v", err)
	}
	got, err := DecodeEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ActionID != env.ActionID {
		t.Fatalf("enqueue round trip mismatch")
	}
}

func TestFireAndForgetSurfacesEnqueueFailure(t *testing.T) {
	client, srv := newTestClient(t, "tester")
	srv.Close()

	env, err := NewEnvelope("echo.ping", "t-1", "s-1", "tester", nil)
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	err = client.FireAndForget(context.Background(), env, "")
	if err == nil {
		t.Fatalf("expected bus error after store shutdown")
	}
	var be *BusError
	if !errors.As(err, &be) {
		t.Fatalf("expected *BusError, got %T: %v", err, err)
	}
}

func TestRequestReplyReturnsHandlerResponse(t *testing.T) {
	client, _ := newTestClient(t, "caller")
	ctx := context.Background()

	env, err := client.Build("config.fetch", "t-1", "s-1", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	// Remote worker side: pop the request and write the exact response.
	go func() {
		popped, perr := client.pop(ctx, 2*time.Second, "config.t-1.actions")
		if perr != nil || popped == nil {
			return
		}
		resp, _ := OKResponse(map[string]string{"model": "default"})
		_ = client.respond(ctx, popped.CorrelationID, resp)
	}()

	resp, err := client.RequestReply(ctx, env, "", 3*time.Second)
	if err != nil {
		t.Fatalf("request reply: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success response: %+v", resp)
	}
	var payload map[string]string
	if err := json.Unmarshal(resp.Data, &payload); err != nil || payload["model"] != "default" {
		t.Fatalf("unexpected payload: %s", resp.Data)
	}
	if env.CorrelationID == "" {
		t.Fatalf("correlation id must be filled in")
	}
}

func TestRequestReplyTimeoutIsDistinct(t *testing.T) {
	client, _ := newTestClient(t, "caller")

	env, err := client.Build("config.fetch", "t-1", "s-1", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	start := time.Now()
	_, err = client.RequestReply(context.Background(), env, "", 150*time.Millisecond)
	if !errors.Is(err, ErrReplyTimeout) {
		t.Fatalf("expected ErrReplyTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took too long: %s", elapsed)
	}
	var be *BusError
	if errors.As(err, &be) {
		t.Fatalf("timeout must not classify as bus error")
	}
}

func TestLateReplyExpiresViaTTL(t *testing.T) {
	client, srv := newTestClient(t, "caller")
	ctx := context.Background()

	// Writer side delivers after the caller already gave up.
	resp, _ := OKResponse(map[string]string{"late": "yes"})
	if err := client.respond(ctx, "corr-late", resp); err != nil {
		t.Fatalf("respond: %v", err)
	}
	slot := ReplySlot("corr-late")
	ttl := srv.TTL(slot)
	if ttl <= 0 || ttl > 30*time.Second {
		t.Fatalf("reply slot TTL not bounded: %v", ttl)
	}
	srv.FastForward(31 * time.Second)
	if srv.Exists(slot) {
		t.Fatalf("reply slot must expire")
	}
}

func TestSendWithCallbackSetsAddress(t *testing.T) {
	client, srv := newTestClient(t, "orchestrator")
	ctx := context.Background()

	env, err := client.Build("embedding.generate", "t-1", "s-1", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := client.SendWithCallback(ctx, env, "", "gateway.main.callbacks", "execution.callback"); err != nil {
		t.Fatalf("send with callback: %v", err)
	}
	raw, err := srv.Lpop("embedding.t-1.actions")
	if err != nil {
		t.Fatalf("queue empty: %v", err)
	}
	got, err := DecodeEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.WantsCallback() || got.CallbackQueueName != "gateway.main.callbacks" ||
		got.CallbackActionType != "execution.callback" {
		t.Fatalf("callback address missing: %+v", got)
	}

	if err := client.SendWithCallback(ctx, env, "", "", "execution.callback"); err == nil {
		t.Fatalf("expected error for missing callback queue")
	}
}

func TestResolvePatternFiltersKeys(t *testing.T) {
	client, srv := newTestClient(t, "worker")
	ctx := context.Background()

	srv.Lpush("embedding.t-1.actions", "x")
	srv.Lpush("embedding.t-2.actions", "x")
	srv.Lpush("gateway.main.callbacks", "x")
	srv.Set("embedding.t-3.actions.meta", "not-a-queue")

	keys, err := client.resolvePattern(ctx, QueuePattern("embedding"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	found := map[string]bool{}
	for _, k := range keys {
		found[k] = true
	}
	if !found["embedding.t-1.actions"] || !found["embedding.t-2.actions"] {
		t.Fatalf("expected tenant queues, got %v", keys)
	}
	if found["gateway.main.callbacks"] || found["embedding.t-3.actions.meta"] {
		t.Fatalf("pattern resolution leaked unrelated keys: %v", keys)
	}
}
