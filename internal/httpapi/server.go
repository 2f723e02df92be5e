package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tolkapp/tolk/internal/observability"
	"github.com/tolkapp/tolk/internal/session"
)

// Server exposes the local control surface: health probes, metrics and a
// small session API for starting, inspecting and stopping translation.
type Server struct {
	sessions *session.Manager
	defaults SessionDefaults
}

// SessionDefaults fill request fields the caller omitted.
type SessionDefaults struct {
	UserID     string
	SourceLang string
	TargetLang string
}

func New(sessions *session.Manager, defaults SessionDefaults) *Server {
	return &Server{sessions: sessions, defaults: defaults}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/session", s.handleStartSession)
	r.Get("/v1/session", s.handleGetSession)
	r.Post("/v1/session/stop", s.handleStopSession)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type startSessionRequest struct {
	UserID     string `json:"user_id"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = s.defaults.UserID
	}
	if strings.TrimSpace(req.SourceLang) == "" {
		req.SourceLang = s.defaults.SourceLang
	}
	if strings.TrimSpace(req.TargetLang) == "" {
		req.TargetLang = s.defaults.TargetLang
	}
	if strings.EqualFold(req.SourceLang, req.TargetLang) {
		respondError(w, http.StatusBadRequest, "invalid_languages", "source and target language must differ")
		return
	}

	sess, err := s.sessions.Start(r.Context(), session.EngineConfig{
		UserID:     req.UserID,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "session_start_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	sess, err := s.sessions.Current()
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Stop(r.Context()); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "session_stop_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "stopped"})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
