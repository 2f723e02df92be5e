package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tolkapp/tolk/internal/capture"
	"github.com/tolkapp/tolk/internal/ledger"
	"github.com/tolkapp/tolk/internal/playback"
	"github.com/tolkapp/tolk/internal/protocol"
	"github.com/tolkapp/tolk/internal/realtime"
	"github.com/tolkapp/tolk/internal/session"
)

// testFactory builds engines against an unreachable endpoint; the API
// surface does not care whether the session ultimately connects.
func testFactory() session.EngineFactory {
	return func(cfg session.EngineConfig) (*session.Engine, error) {
		dev := &capture.BufferDevice{
			PCM: make([]byte, 4800),
			Fmt: capture.Format{SampleRate: protocol.SampleRate, Channels: 1},
		}
		dialer := realtime.NewDialer(
			realtime.Config{URL: "ws://127.0.0.1:1/v1/realtime"},
			realtime.StaticToken("test-token"),
		)
		return session.NewEngine(cfg, session.EngineDeps{
			Transport:  session.DialerTransport{Dialer: dialer},
			Capture:    capture.NewPipeline(dev, capture.Config{}),
			Playback:   playback.NewPipeline(&playback.BufferSink{}),
			Permission: session.DevicePermission{Dev: dev},
			Ledger:     ledger.NewInMemoryClient(60),
		})
	}
}

func newTestServer() *httptest.Server {
	manager := session.NewManager(testFactory())
	srv := New(manager, SessionDefaults{
		UserID:     "local",
		SourceLang: "en",
		TargetLang: "it",
	})
	return httptest.NewServer(srv.Router())
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestStartSessionAppliesDefaults(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/session", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST /v1/session error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var sess session.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if sess.ID == "" {
		t.Fatalf("session id missing in response")
	}
	if sess.SourceLang != "en" || sess.TargetLang != "it" {
		t.Fatalf("languages = %s->%s, want en->it defaults", sess.SourceLang, sess.TargetLang)
	}
}

func TestStartSessionRejectsSameLanguages(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()

	body := `{"source_lang":"en","target_lang":"EN"}`
	resp, err := http.Post(ts.URL+"/v1/session", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/session error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if er.Code != "invalid_languages" {
		t.Fatalf("error code = %q, want invalid_languages", er.Code)
	}
}

func TestGetSessionWithoutActiveReturns404(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/session")
	if err != nil {
		t.Fatalf("GET /v1/session error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStopSessionLifecycle(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/session", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("start session error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d, want 201", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/v1/session/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("stop session error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/v1/session")
	if err != nil {
		t.Fatalf("GET after stop error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status after stop = %d, want 404", resp.StatusCode)
	}

	// Stopping again reports the absence.
	resp, err = http.Post(ts.URL+"/v1/session/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("second stop error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second stop status = %d, want 404", resp.StatusCode)
	}
}
