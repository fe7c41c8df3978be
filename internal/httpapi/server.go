package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/proctorwatch/internal/config"
	"github.com/ent0n29/proctorwatch/internal/fanout"
	"github.com/ent0n29/proctorwatch/internal/ingest"
	"github.com/ent0n29/proctorwatch/internal/observability"
	"github.com/ent0n29/proctorwatch/internal/session"
)

// Pinger reports backend readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	ingest   *ingest.Service
	bus      *fanout.Bus
	metrics  *observability.Metrics
	ready    Pinger
	logger   *zap.Logger
	upgrader websocket.Upgrader

	metricsHandler http.Handler
}

type Option func(*Server)

// WithReadiness makes /readyz ping p.
func WithReadiness(p Pinger) Option {
	return func(s *Server) { s.ready = p }
}

// WithMetricsHandler overrides the /metrics handler, which defaults to the
// global prometheus registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

func New(cfg config.Config, sessions *session.Manager, ingestSvc *ingest.Service, bus *fanout.Bus, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:            cfg,
		sessions:       sessions,
		ingest:         ingestSvc,
		bus:            bus,
		metrics:        metrics,
		logger:         logger,
		metricsHandler: observability.MetricsHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metricsHandler.ServeHTTP(w, r)
	})

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.handleStartSession)
		r.Get("/", s.handleListSessions)
		r.Get("/{id}", s.handleGetSession)
		r.Post("/{id}/end", s.handleEndSession)
		r.Post("/{id}/events", s.handleIngestEvent)
		r.Get("/{id}/events", s.handleListEvents)
		r.Get("/{id}/report", s.handleReport)
	})
	r.Post("/v1/events", s.handleIngestEvent)
	r.Get("/v1/ws", s.handleObserverWS)
	r.Get("/v1/monitor/settings", s.handleMonitorSettings)
	r.Get("/v1/perf/pipeline", s.handlePerfPipeline)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"store_backend": storeBackend(s.cfg),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready.Ping(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"store_backend": storeBackend(s.cfg),
	})
}

func storeBackend(cfg config.Config) string {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return "memory"
	}
	return "postgres"
}

const (
	headerViewerRole  = "X-Viewer-Role"
	headerViewerID    = "X-Viewer-ID"
	headerViewerEmail = "X-Viewer-Email"
)

// viewerFrom reads the identity set by the auth gateway in front of the
// service. A request without identity headers is treated as admin.
func viewerFrom(r *http.Request) (session.Viewer, error) {
	role, ok := session.ParseRole(r.Header.Get(headerViewerRole))
	if !ok {
		return session.Viewer{}, errors.New("unknown viewer role")
	}
	return session.Viewer{
		Role:  role,
		ID:    strings.TrimSpace(r.Header.Get(headerViewerID)),
		Email: strings.TrimSpace(r.Header.Get(headerViewerEmail)),
	}, nil
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

// respondDomainError maps session errors onto status codes. Anything
// unrecognized is an internal error and is logged.
func (s *Server) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrValidation):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, session.ErrInvalidState):
		respondError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, session.ErrConflict):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the response.
		respondError(w, http.StatusServiceUnavailable, "cancelled", err.Error())
	default:
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, session.ErrNotFound)
}
