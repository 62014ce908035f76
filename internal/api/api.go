// Package api is a thin net/http transport pinning the JSON wire shapes
// of spec.md §6.1. It is deliberately minimal — no router or middleware
// library — since auth, CLI, and transport hardening are explicitly out
// of scope; this package exists only so the wire shapes are exercised by
// a real caller path.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sevakavakians/kato/internal/kerrors"
	"github.com/sevakavakians/kato/internal/models"
	"github.com/sevakavakians/kato/internal/session"
)

// Server wires a session.Manager to the HTTP surface of spec.md §6.1.
type Server struct {
	manager   *session.Manager
	startedAt time.Time
}

// New builds a Server backed by manager.
func New(manager *session.Manager) *Server {
	return &Server{manager: manager, startedAt: time.Now()}
}

// Handler returns the configured http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.createSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.deleteSession)
	mux.HandleFunc("POST /sessions/{id}/observe", s.observe)
	mux.HandleFunc("POST /sessions/{id}/observe-sequence", s.observeSequence)
	mux.HandleFunc("GET /sessions/{id}/stm", s.getSTM)
	mux.HandleFunc("POST /sessions/{id}/clear-stm", s.clearSTM)
	mux.HandleFunc("POST /sessions/{id}/learn", s.learn)
	mux.HandleFunc("GET /sessions/{id}/predictions", s.getPredictions)
	mux.HandleFunc("POST /sessions/{id}/config", s.updateConfig)
	mux.HandleFunc("GET /sessions/{id}/config", s.getConfig)
	mux.HandleFunc("GET /pattern/{name}", s.getPattern)
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /metrics", s.metrics)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders err as spec.md §7's { error: {...} } envelope. A
// non-KatoError is treated as an opaque internal failure.
func writeError(w http.ResponseWriter, err error) {
	kerr, ok := err.(kerrors.Error)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, kerrors.Envelope{Error: kerrors.WireError{
			Type:      "InternalError",
			Message:   err.Error(),
			Code:      kerrors.CodeInternal,
			Timestamp: time.Now(),
		}})
		return
	}
	writeJSON(w, kerrors.HTTPStatus(kerr.Code()), kerrors.ToWire(errorType(kerr), kerr))
}

func errorType(kerr kerrors.Error) string {
	switch kerr.Code() {
	case kerrors.CodePatternNotFound:
		return "PatternNotFoundError"
	case kerrors.CodeSessionNotFound:
		return "SessionNotFoundError"
	case kerrors.CodeSessionExpired:
		return "SessionExpiredError"
	case kerrors.CodeSessionLimitExceeded:
		return "SessionLimitExceededError"
	case kerrors.CodeValidationError:
		return "ValidationError"
	case kerrors.CodeInvalidVectorDim:
		return "InvalidVectorDimError"
	case kerrors.CodeConfigurationError:
		return "ConfigurationError"
	default:
		return "KatoError"
	}
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return kerrors.NewValidationError("body", nil, "valid JSON matching the endpoint's schema")
	}
	return nil
}

type createSessionRequest struct {
	NodeID     string                 `json:"node_id"`
	TTLSeconds int                    `json:"ttl_seconds"`
	Metadata   map[string]interface{} `json:"metadata"`
}

type createSessionResponse struct {
	SessionID string    `json:"session_id"`
	NodeID    string    `json:"node_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.NodeID == "" {
		writeError(w, kerrors.NewValidationError("node_id", req.NodeID, "required, non-empty"))
		return
	}

	var ttl time.Duration
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	sess, err := s.manager.CreateSession(r.Context(), req.NodeID, ttl, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createSessionResponse{SessionID: sess.ID, NodeID: sess.NodeID, CreatedAt: sess.CreatedAt})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type observeRequest struct {
	Strings  []string               `json:"strings"`
	Vectors  [][]float64            `json:"vectors"`
	Emotives map[string]float64     `json:"emotives"`
	Metadata map[string]interface{} `json:"metadata"`
	UniqueID string                 `json:"unique_id"`
}

func (r observeRequest) toObservation() models.Observation {
	return models.Observation{
		Strings:  r.Strings,
		Vectors:  r.Vectors,
		Emotives: r.Emotives,
		Metadata: r.Metadata,
		UniqueID: r.UniqueID,
	}
}

type observeResponse struct {
	Status             string `json:"status"`
	STMLength          int    `json:"stm_length"`
	UniqueID           string `json:"unique_id"`
	AutoLearnedPattern string `json:"auto_learned_pattern,omitempty"`
}

func (s *Server) observe(w http.ResponseWriter, r *http.Request) {
	var req observeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.manager.Observe(r.Context(), r.PathValue("id"), req.toObservation())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, observeResponse{
		Status:             "okay",
		STMLength:          res.STMLength,
		UniqueID:           res.UniqueID,
		AutoLearnedPattern: res.AutoLearnedPattern,
	})
}

type observeSequenceRequest struct {
	Observations    []observeRequest `json:"observations"`
	LearnAfterEach  bool              `json:"learn_after_each"`
	LearnAtEnd      bool              `json:"learn_at_end"`
	ClearSTMBetween bool              `json:"clear_stm_between"`
}

type observeSequenceResponse struct {
	Status               string            `json:"status"`
	ObservationsProcessed int              `json:"observations_processed"`
	Results               []observeResponse `json:"results"`
	AutoLearnedPatterns   []string          `json:"auto_learned_patterns"`
	FinalLearnedPattern   string            `json:"final_learned_pattern,omitempty"`
}

func (s *Server) observeSequence(w http.ResponseWriter, r *http.Request) {
	var req observeSequenceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sessionID := r.PathValue("id")

	resp := observeSequenceResponse{Status: "completed", Results: make([]observeResponse, 0, len(req.Observations))}
	for _, obsReq := range req.Observations {
		res, err := s.manager.Observe(r.Context(), sessionID, obsReq.toObservation())
		if err != nil {
			writeError(w, err)
			return
		}
		resp.ObservationsProcessed++
		resp.Results = append(resp.Results, observeResponse{
			Status:             "okay",
			STMLength:          res.STMLength,
			UniqueID:           res.UniqueID,
			AutoLearnedPattern: res.AutoLearnedPattern,
		})
		if res.AutoLearnedPattern != "" {
			resp.AutoLearnedPatterns = append(resp.AutoLearnedPatterns, res.AutoLearnedPattern)
		}

		if req.LearnAfterEach {
			name, err := s.manager.Learn(r.Context(), sessionID)
			if err != nil {
				writeError(w, err)
				return
			}
			if name != "" {
				resp.AutoLearnedPatterns = append(resp.AutoLearnedPatterns, name)
			}
		}
		if req.ClearSTMBetween {
			if err := s.manager.ClearSTM(r.Context(), sessionID); err != nil {
				writeError(w, err)
				return
			}
		}
	}

	if req.LearnAtEnd {
		name, err := s.manager.Learn(r.Context(), sessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.FinalLearnedPattern = name
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getSTM(w http.ResponseWriter, r *http.Request) {
	stm, err := s.manager.GetSTM(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]models.Event{"stm": stm})
}

func (s *Server) clearSTM(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.ClearSTM(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) learn(w http.ResponseWriter, r *http.Request) {
	name, err := s.manager.Learn(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "learned", "pattern_name": name})
}

func (s *Server) getPredictions(w http.ResponseWriter, r *http.Request) {
	preds, err := s.manager.GetPredictions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"predictions": preds, "count": len(preds)})
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var overrides map[string]interface{}
	if err := decodeJSON(r, &overrides); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.manager.UpdateConfig(r.Context(), r.PathValue("id"), overrides); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "okay"})
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.manager.GetConfig(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) getPattern(w http.ResponseWriter, r *http.Request) {
	kbID := r.URL.Query().Get("kb_id")
	if kbID == "" {
		kbID = r.Header.Get("X-KATO-KB-ID")
	}
	if kbID == "" {
		writeError(w, kerrors.NewValidationError("kb_id", "", "required via query parameter or X-KATO-KB-ID header"))
		return
	}

	pattern, err := s.manager.GetPattern(r.Context(), kbID, r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pattern)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"uptime_seconds":  time.Since(s.startedAt).Seconds(),
		"active_sessions": s.manager.Count(),
	})
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active_sessions": s.manager.Count(),
	})
}
