// Package ingest validates detection events and appends them to a session's
// log while applying their score deductions.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ent0n29/proctorwatch/internal/detection"
	"github.com/ent0n29/proctorwatch/internal/observability"
	"github.com/ent0n29/proctorwatch/internal/scoring"
	"github.com/ent0n29/proctorwatch/internal/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxMessageLen = 1024

// Request is the caller's view of a detection event.
type Request struct {
	SessionID  string          `json:"session_id"`
	Kind       string          `json:"kind"`
	Message    string          `json:"message"`
	Severity   string          `json:"severity"`
	OffsetSec  *int64          `json:"offset_seconds"`
	Confidence *float64        `json:"confidence"`
	Metadata   json.RawMessage `json:"metadata"`
}

// Listener observes accepted events. Implementations must not block; they
// are called while the session is held.
type Listener interface {
	EventAccepted(ev detection.Event, s session.Session)
}

type ListenerFunc func(ev detection.Event, s session.Session)

func (f ListenerFunc) EventAccepted(ev detection.Event, s session.Session) { f(ev, s) }

type Order string

const (
	OrderArrival Order = "arrival"
	OrderOffset  Order = "offset"
)

func ParseOrder(raw string) (Order, bool) {
	switch Order(strings.ToLower(strings.TrimSpace(raw))) {
	case "", OrderArrival:
		return OrderArrival, true
	case OrderOffset:
		return OrderOffset, true
	}
	return "", false
}

type Service struct {
	sessions  *session.Manager
	store     Store
	listeners []Listener
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(sessions *session.Manager, store Store, metrics *observability.Metrics, logger *zap.Logger, listeners ...Listener) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sessions:  sessions,
		store:     store,
		listeners: listeners,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ingest appends one event. An unknown session is reported before any
// payload problem.
func (s *Service) Ingest(ctx context.Context, req Request) (detection.Event, error) {
	started := time.Now()
	sessionID := strings.TrimSpace(req.SessionID)

	var accepted detection.Event
	err := s.sessions.WithSession(ctx, sessionID, func(cur session.Session) error {
		ev, err := buildEvent(req)
		if err != nil {
			return err
		}
		if cur.Status != session.StatusActive {
			return fmt.Errorf("%w: session %s is %s", session.ErrInvalidState, cur.ID, cur.Status)
		}

		now := s.now()
		ev.ID = uuid.NewString()
		ev.SessionID = cur.ID
		ev.ReceivedAt = now

		next := cur.Clone()
		scoring.Apply(&next.Tally, ev)
		next.LastActivityAt = now

		stored, err := s.store.AppendEvent(ctx, ev, next)
		if err != nil {
			return err
		}
		accepted = stored
		for _, l := range s.listeners {
			l.EventAccepted(stored.Clone(), next.Clone())
		}
		return nil
	})
	if err != nil {
		s.reject(sessionID, req.Kind, err)
		return detection.Event{}, err
	}

	s.metrics.DetectionAccepted(string(accepted.Kind), string(accepted.Severity))
	s.metrics.ObserveIngestLatency(time.Since(started))
	return accepted, nil
}

// ListForSession returns every event of a session visible to viewer.
func (s *Service) ListForSession(ctx context.Context, viewer session.Viewer, sessionID string, order Order) ([]detection.Event, error) {
	if _, err := s.sessions.Get(ctx, viewer, sessionID); err != nil {
		return nil, err
	}
	events, err := s.store.ListEvents(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	if events == nil {
		events = []detection.Event{}
	}
	if order == OrderOffset {
		// Ties keep arrival order.
		sort.SliceStable(events, func(i, j int) bool {
			return events[i].OffsetSec < events[j].OffsetSec
		})
	}
	return events, nil
}

func (s *Service) reject(sessionID, kind string, err error) {
	reason := "internal"
	switch {
	case errors.Is(err, session.ErrValidation):
		reason = "validation"
	case errors.Is(err, session.ErrNotFound):
		reason = "not_found"
	case errors.Is(err, session.ErrInvalidState):
		reason = "invalid_state"
	case errors.Is(err, session.ErrConflict):
		reason = "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		reason = "cancelled"
	}
	s.metrics.IngestRejected(reason)
	if reason == "internal" {
		s.logger.Error("event ingestion failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	s.logger.Debug("event rejected",
		zap.String("session_id", sessionID),
		zap.String("kind", kind),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

func buildEvent(req Request) (detection.Event, error) {
	kind, ok := detection.ParseKind(req.Kind)
	if !ok {
		if strings.TrimSpace(req.Kind) == "" {
			return detection.Event{}, fmt.Errorf("%w: kind is required", session.ErrValidation)
		}
		return detection.Event{}, fmt.Errorf("%w: unknown kind %q", session.ErrValidation, req.Kind)
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return detection.Event{}, fmt.Errorf("%w: message is required", session.ErrValidation)
	}
	if len(msg) > maxMessageLen {
		return detection.Event{}, fmt.Errorf("%w: message exceeds %d bytes", session.ErrValidation, maxMessageLen)
	}
	sev, ok := detection.ParseSeverity(req.Severity)
	if !ok {
		return detection.Event{}, fmt.Errorf("%w: unknown severity %q", session.ErrValidation, req.Severity)
	}
	if req.OffsetSec == nil {
		return detection.Event{}, fmt.Errorf("%w: offset_seconds is required", session.ErrValidation)
	}
	if *req.OffsetSec < 0 {
		return detection.Event{}, fmt.Errorf("%w: offset_seconds must be >= 0", session.ErrValidation)
	}
	if c := req.Confidence; c != nil && (*c < 0 || *c > 1) {
		return detection.Event{}, fmt.Errorf("%w: confidence must be within [0,1]", session.ErrValidation)
	}

	ev := detection.Event{
		Kind:      kind,
		Message:   msg,
		Severity:  sev,
		OffsetSec: *req.OffsetSec,
	}
	if req.Confidence != nil {
		c := *req.Confidence
		ev.Confidence = &c
	}
	if meta := strings.TrimSpace(string(req.Metadata)); meta != "" && meta != "null" {
		if !json.Valid([]byte(meta)) {
			return detection.Event{}, fmt.Errorf("%w: metadata must be valid JSON", session.ErrValidation)
		}
		ev.Metadata = json.RawMessage(meta)
	}
	return ev, nil
}

// Snapshot returns a session and its events in arrival order, read under the
// session lock so the tally and the event list agree.
func (s *Service) Snapshot(ctx context.Context, viewer session.Viewer, sessionID string) (session.Session, []detection.Event, error) {
	if _, err := s.sessions.Get(ctx, viewer, sessionID); err != nil {
		return session.Session{}, nil, err
	}
	var (
		snap   session.Session
		events []detection.Event
	)
	err := s.sessions.WithSession(ctx, sessionID, func(cur session.Session) error {
		list, err := s.store.ListEvents(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}
		snap, events = cur, list
		return nil
	})
	if err != nil {
		return session.Session{}, nil, err
	}
	if events == nil {
		events = []detection.Event{}
	}
	return snap, events, nil
}
