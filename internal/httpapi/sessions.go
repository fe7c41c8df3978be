package httpapi

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/proctorwatch/internal/ingest"
	"github.com/ent0n29/proctorwatch/internal/report"
	"github.com/ent0n29/proctorwatch/internal/session"
)

type listSessionsResponse struct {
	Sessions []session.Session `json:"sessions"`
}

type listEventsResponse struct {
	SessionID string `json:"session_id"`
	Order     string `json:"order"`
	Events    any    `json:"events"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sess, err := s.sessions.Start(r.Context(), req)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var req session.EndRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !s.authorizeWrite(w, r, id) {
		return
	}
	sess, err := s.sessions.End(r.Context(), id, req)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// authorizeWrite rejects a mutation of a session the viewer cannot see. A
// hidden session answers exactly like a missing one.
func (s *Server) authorizeWrite(w http.ResponseWriter, r *http.Request, id string) bool {
	viewer, err := viewerFrom(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_viewer", err.Error())
		return false
	}
	if viewer.Admin() {
		return true
	}
	if _, err := s.sessions.Get(r.Context(), viewer, id); err != nil {
		s.respondDomainError(w, r, err)
		return false
	}
	return true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	viewer, err := viewerFrom(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_viewer", err.Error())
		return
	}
	sess, err := s.sessions.Get(r.Context(), viewer, strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	viewer, err := viewerFrom(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_viewer", err.Error())
		return
	}
	list, err := s.sessions.List(r.Context(), viewer)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, listSessionsResponse{Sessions: list})
}

func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var req ingest.Request
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if id := strings.TrimSpace(chi.URLParam(r, "id")); id != "" {
		if req.SessionID != "" && req.SessionID != id {
			respondError(w, http.StatusBadRequest, "invalid_request", "session_id in body does not match path")
			return
		}
		req.SessionID = id
	}
	if id := strings.TrimSpace(req.SessionID); id != "" && !s.authorizeWrite(w, r, id) {
		return
	}
	ev, err := s.ingest.Ingest(r.Context(), req)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	viewer, err := viewerFrom(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_viewer", err.Error())
		return
	}
	order, ok := ingest.ParseOrder(r.URL.Query().Get("order"))
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_request", "order must be arrival or offset")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	events, err := s.ingest.ListForSession(r.Context(), viewer, id, order)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, listEventsResponse{SessionID: id, Order: string(order), Events: events})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	viewer, err := viewerFrom(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_viewer", err.Error())
		return
	}
	sess, events, err := s.ingest.Snapshot(r.Context(), viewer, strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	rep := report.Build(sess, events, time.Now().UTC())

	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))) {
	case "", "json":
		respondJSON(w, http.StatusOK, rep)
	case "text":
		var buf bytes.Buffer
		if err := report.Render(&buf, rep); err != nil {
			s.respondDomainError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "format must be json or text")
	}
}
