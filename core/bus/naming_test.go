package bus

import "testing"

func TestQueueNaming(t *testing.T) {
	if got := ActionQueue("embedding", "t-1"); got != "embedding.t-1.actions" {
		t.Fatalf("unexpected action queue: %s", got)
	}
	if got := CallbackQueue("gateway", "main"); got != "gateway.main.callbacks" {
		t.Fatalf("unexpected callback queue: %s", got)
	}
	if got := CallbackQueue("gateway", ""); got != "gateway.main.callbacks" {
		t.Fatalf("expected default instance: %s", got)
	}
	if got := ReplySlot("corr-1"); got != "reply.corr-1" {
		t.Fatalf("unexpected reply slot: %s", got)
	}
	if got := QueuePattern("orchestrator"); got != "orchestrator.*.actions" {
		t.Fatalf("unexpected pattern: %s", got)
	}
}

func TestActionQueueFor(t *testing.T) {
	env, err := NewEnvelope("embedding.generate", "t-2", "s-1", "tester", nil)
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	queue, err := ActionQueueFor(env)
	if err != nil {
		t.Fatalf("queue for: %v", err)
	}
	if queue != "embedding.t-2.actions" {
		t.Fatalf("unexpected queue: %s", queue)
	}

	env.ActionType = "broken"
	if _, err := ActionQueueFor(env); err == nil {
		t.Fatalf("expected error for domainless action type")
	}
}

func TestIsActionQueue(t *testing.T) {
	for key, want := range map[string]bool{
		"embedding.t-1.actions":  true,
		"execution.acme.actions": true,
		"gateway.main.callbacks": false,
		"reply.corr-1":           false,
		"embedding.actions":      false,
		".t-1.actions":           false,
	} {
		if got := IsActionQueue(key); got != want {
			t.Fatalf("IsActionQueue(%q) = %v, want %v", key, got, want)
		}
	}
}
