package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetMessages(t *testing.T) {
	want := []Message{
		{SessionID: "s-1", TenantID: "t-1", Role: "user", Content: "hi"},
		{SessionID: "s-1", TenantID: "t-1", Role: "assistant", Content: "hello"},
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions/s-1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "10" {
			t.Errorf("limit = %s", r.URL.Query().Get("limit"))
		}
		if r.Header.Get("X-Tenant-ID") != "t-1" {
			t.Errorf("tenant header = %s", r.Header.Get("X-Tenant-ID"))
		}
		if r.Header.Get("Authorization") != "Bearer k-1" {
			t.Errorf("auth header = %s", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(want)
	}))
	defer ts.Close()

	client, err := NewClient(ts.URL, "k-1")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	got, err := client.Get(context.Background(), "t-1", "s-1", 10)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 || got[1].Content != "hello" {
		t.Fatalf("messages = %+v", got)
	}
}

func TestPostMessage(t *testing.T) {
	var received Message
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	client, err := NewClient(ts.URL, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = client.Post(context.Background(), Message{
		SessionID: "s-1", TenantID: "t-1", Role: "user", Content: "hi",
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if received.Content != "hi" || received.Timestamp.IsZero() {
		t.Fatalf("received = %+v", received)
	}
}

func TestRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode([]Message{{SessionID: "s-1", Content: "ok"}})
	}))
	defer ts.Close()

	client, err := NewClient(ts.URL, "", WithRetries(3, time.Millisecond))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	got, err := client.Get(context.Background(), "t-1", "s-1", 0)
	if err != nil {
		t.Fatalf("get after retries: %v", err)
	}
	if len(got) != 1 || calls.Load() != 3 {
		t.Fatalf("got=%v calls=%d", got, calls.Load())
	}
}

func TestClientErrorsAreFinal(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such session", http.StatusNotFound)
	}))
	defer ts.Close()

	client, err := NewClient(ts.URL, "", WithRetries(3, time.Millisecond))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Get(context.Background(), "t-1", "s-1", 0); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("404 retried %d times", calls.Load())
	}
}

func TestRetriesExhausted(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer ts.Close()

	client, err := NewClient(ts.URL, "", WithRetries(2, time.Millisecond))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Get(context.Background(), "t-1", "s-1", 0); err == nil {
		t.Fatalf("expected error after budget")
	}
}

func TestContextCancelStopsRetryLoop(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer ts.Close()

	client, err := NewClient(ts.URL, "", WithRetries(10, time.Hour))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := client.Get(ctx, "t-1", "s-1", 0); err == nil {
		t.Fatalf("expected error")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("retry loop ignored cancellation")
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("", ""); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}
