package gateway

import (
	"context"
	"testing"
	"time"
)

func TestUsageRecordAndRead(t *testing.T) {
	usage, srv := newTestUsage(t)
	ctx := context.Background()
	day := time.Now().UTC().Format("2006-01-02")

	for i := 0; i < 3; i++ {
		if err := usage.Record(ctx, "t-1", "completed", float64(100+i)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := usage.Record(ctx, "t-1", "failed", 0); err != nil {
		t.Fatalf("record failed status: %v", err)
	}
	if err := usage.Record(ctx, "t-2", "completed", 50); err != nil {
		t.Fatalf("record other tenant: %v", err)
	}

	total, err := usage.Counter(ctx, "t-1", day, "total")
	if err != nil || total != 4 {
		t.Fatalf("total = %d (%v), want 4", total, err)
	}
	completed, err := usage.Counter(ctx, "t-1", day, "status_completed")
	if err != nil || completed != 3 {
		t.Fatalf("status_completed = %d (%v), want 3", completed, err)
	}
	failed, err := usage.Counter(ctx, "t-1", day, "status_failed")
	if err != nil || failed != 1 {
		t.Fatalf("status_failed = %d (%v), want 1", failed, err)
	}
	otherTotal, err := usage.Counter(ctx, "t-2", day, "total")
	if err != nil || otherTotal != 1 {
		t.Fatalf("tenant isolation: t-2 total = %d (%v), want 1", otherTotal, err)
	}

	samples, err := usage.Samples(ctx, "t-1", day)
	if err != nil {
		t.Fatalf("samples: %v", err)
	}
	// The zero-duration record must not add a sample.
	if len(samples) != 3 || samples[0] != 100 || samples[2] != 102 {
		t.Fatalf("samples = %v, want [100 101 102]", samples)
	}

	if ttl := srv.TTL(usageKey("t-1", day, "total")); ttl <= 0 {
		t.Fatalf("counter key must carry a TTL, got %v", ttl)
	}
	if ttl := srv.TTL(usageSamplesKey("t-1", day)); ttl <= 0 {
		t.Fatalf("samples key must carry a TTL, got %v", ttl)
	}
}

func TestUsageCounterMissingIsZero(t *testing.T) {
	usage, _ := newTestUsage(t)
	val, err := usage.Counter(context.Background(), "t-none", "2026-01-01", "total")
	if err != nil || val != 0 {
		t.Fatalf("missing counter = %d (%v), want 0", val, err)
	}
}

func TestUsageRecordRequiresTenant(t *testing.T) {
	usage, _ := newTestUsage(t)
	if err := usage.Record(context.Background(), "", "completed", 1); err == nil {
		t.Fatalf("expected error for empty tenant")
	}
}

func TestUsageKeysSelfExpire(t *testing.T) {
	usage, srv := newTestUsage(t)
	ctx := context.Background()
	day := time.Now().UTC().Format("2006-01-02")

	if err := usage.Record(ctx, "t-1", "completed", 10); err != nil {
		t.Fatalf("record: %v", err)
	}
	srv.FastForward(2 * time.Hour) // store TTL is one hour in tests

	total, err := usage.Counter(ctx, "t-1", day, "total")
	if err != nil || total != 0 {
		t.Fatalf("expired counter = %d (%v), want 0", total, err)
	}
}
