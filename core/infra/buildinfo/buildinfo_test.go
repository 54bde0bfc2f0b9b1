package buildinfo

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestInfoAndLog(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	t.Cleanup(func() {
		Version, Commit, Date = origVersion, origCommit, origDate
	})
	Version, Commit, Date = "1.2.3", "abc123", "2026-01-02"

	if got := Info(); got != "version=1.2.3 commit=abc123 date=2026-01-02" {
		t.Fatalf("unexpected info: %s", got)
	}

	var buf bytes.Buffer
	origOutput := log.Writer()
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(origOutput) })

	Log("weft-gateway")
	got := buf.String()
	if !strings.Contains(got, "weft-gateway") || !strings.Contains(got, "version=1.2.3") {
		t.Fatalf("unexpected log output: %s", got)
	}
}
