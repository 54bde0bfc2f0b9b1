package logging

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func capture(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(prev)
	fn()
	return buf.String()
}

func TestInfoFormatsComponentAndFields(t *testing.T) {
	out := capture(t, func() {
		Info("gateway", "ws connected", "session", "s-1", "tenant", "t-1")
	})
	if !strings.Contains(out, "[GATEWAY] ws connected session=s-1 tenant=t-1") {
		t.Fatalf("unexpected log line: %q", out)
	}
}

func TestWarnAndErrorPrefixes(t *testing.T) {
	out := capture(t, func() {
		Warn("bus", "handler shadowed", "action_type", "echo.ping")
	})
	if !strings.Contains(out, "[BUS] WARN handler shadowed action_type=echo.ping") {
		t.Fatalf("unexpected warn line: %q", out)
	}

	out = capture(t, func() {
		Error("bus", "enqueue failed", "queue", "echo.t1.actions")
	})
	if !strings.Contains(out, "[BUS] ERROR enqueue failed queue=echo.t1.actions") {
		t.Fatalf("unexpected error line: %q", out)
	}
}

func TestOddFieldCountGetsPlaceholder(t *testing.T) {
	out := capture(t, func() {
		Info("worker", "pop", "queue")
	})
	if !strings.Contains(out, "queue=(missing)") {
		t.Fatalf("expected placeholder for dangling key: %q", out)
	}
}

func TestValuesAreFlattened(t *testing.T) {
	out := capture(t, func() {
		Info("worker", "dispatch", "detail", "line1\nline2\tend")
	})
	if strings.Contains(out, "\n l") || strings.Contains(out, "\t") {
		t.Fatalf("expected newlines/tabs flattened: %q", out)
	}
}
