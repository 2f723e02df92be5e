package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestInMemoryClientDebitsDeltaPerHeartbeat(t *testing.T) {
	c := NewInMemoryClient(100)
	ctx := context.Background()

	id, err := c.StartSession(ctx, "u1", "en", "it")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	// Heartbeats report cumulative elapsed time; only the delta is charged.
	res, err := c.Heartbeat(ctx, id, 30*time.Second)
	if err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	if res.CreditsRemaining != 70 {
		t.Fatalf("CreditsRemaining = %v, want 70", res.CreditsRemaining)
	}

	res, err = c.Heartbeat(ctx, id, 50*time.Second)
	if err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	if res.CreditsRemaining != 50 {
		t.Fatalf("CreditsRemaining = %v, want 50", res.CreditsRemaining)
	}

	if err := c.EndSession(ctx, id, 55*time.Second); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	rec, ok := c.Session(id)
	if !ok {
		t.Fatalf("session record missing after end")
	}
	if rec.EndedAt.IsZero() || rec.ElapsedSec != 55 {
		t.Fatalf("record = %+v, want ended with 55 elapsed seconds", rec)
	}

	if _, err := c.Heartbeat(ctx, id, time.Minute); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Heartbeat() after end error = %v, want ErrSessionNotFound", err)
	}
}

func TestHeartbeatResultExhausted(t *testing.T) {
	if (HeartbeatResult{CreditsRemaining: 0.1}).Exhausted() {
		t.Fatalf("positive balance reported exhausted")
	}
	if !(HeartbeatResult{CreditsRemaining: 0}).Exhausted() {
		t.Fatalf("zero balance not reported exhausted")
	}
	if !(HeartbeatResult{CreditsRemaining: -3}).Exhausted() {
		t.Fatalf("negative balance not reported exhausted")
	}
}

func TestHTTPClientSessionFlow(t *testing.T) {
	var gotAuth string
	var heartbeatBody map[string]any
	ended := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/v1/usage/sessions":
			json.NewEncoder(w).Encode(map[string]string{"session_id": "ls_1"})
		case "/v1/usage/sessions/ls_1/heartbeat":
			json.NewDecoder(r.Body).Decode(&heartbeatBody)
			json.NewEncoder(w).Encode(map[string]float64{"credits_remaining": 12.5})
		case "/v1/usage/sessions/ls_1/end":
			ended++
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewHTTPClient() error = %v", err)
	}
	ctx := context.Background()

	id, err := c.StartSession(ctx, "u1", "en", "de")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if id != "ls_1" {
		t.Fatalf("session id = %q, want ls_1", id)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("Authorization = %q, want bearer credential", gotAuth)
	}

	res, err := c.Heartbeat(ctx, id, 90*time.Second)
	if err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	if res.CreditsRemaining != 12.5 {
		t.Fatalf("CreditsRemaining = %v, want 12.5", res.CreditsRemaining)
	}
	if heartbeatBody["elapsed_seconds"] != 90.0 {
		t.Fatalf("heartbeat elapsed_seconds = %v, want 90", heartbeatBody["elapsed_seconds"])
	}

	if err := c.EndSession(ctx, id, 2*time.Minute); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	if ended != 1 {
		t.Fatalf("end calls = %d, want 1", ended)
	}
}

func TestHTTPClientMapsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTPClient() error = %v", err)
	}
	if _, err := c.Heartbeat(context.Background(), "missing", time.Second); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Heartbeat() error = %v, want ErrSessionNotFound", err)
	}
}

func TestHTTPClientSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTPClient() error = %v", err)
	}
	if _, err := c.StartSession(context.Background(), "u1", "en", "fr"); err == nil {
		t.Fatalf("StartSession() error = nil, want server error")
	}
}

func TestNewHTTPClientRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPClient(HTTPConfig{}); err == nil {
		t.Fatalf("NewHTTPClient() error = nil, want missing base URL error")
	}
}
