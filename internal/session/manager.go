package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultIdleTimeout = 30 * time.Minute
	EndReasonIdle      = "idle_timeout"
)

// Manager owns the session state machine. The store is the source of truth;
// the manager only adds validation, per-session serialization and the idle
// sweep.
type Manager struct {
	store       Store
	locks       *keyedMutex
	logger      *zap.Logger
	idleTimeout time.Duration
	now         func() time.Time
	onChange    func(Session)
}

func NewManager(store Store, idleTimeout time.Duration, logger *zap.Logger) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:       store,
		locks:       newKeyedMutex(),
		logger:      logger,
		idleTimeout: idleTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetTransitionHook registers a callback invoked after every lifecycle
// transition (start, end, cancel). It runs outside the session lock.
func (m *Manager) SetTransitionHook(hook func(Session)) {
	m.onChange = hook
}

func (m *Manager) IdleTimeout() time.Duration {
	return m.idleTimeout
}

func (m *Manager) Start(ctx context.Context, req CreateRequest) (Session, error) {
	name := strings.TrimSpace(req.CandidateName)
	email := strings.TrimSpace(req.CandidateEmail)
	if name == "" {
		return Session{}, fmt.Errorf("%w: candidate name is required", ErrValidation)
	}
	if email == "" {
		return Session{}, fmt.Errorf("%w: candidate contact is required", ErrValidation)
	}
	if !strings.Contains(email, "@") {
		return Session{}, fmt.Errorf("%w: candidate contact must be an email address", ErrValidation)
	}

	now := m.now()
	s := Session{
		ID:             uuid.NewString(),
		Candidate:      Candidate{Name: name, Email: email},
		ObserverID:     strings.TrimSpace(req.ObserverID),
		Status:         StatusActive,
		StartedAt:      now,
		Tally:          NewTally(),
		LastActivityAt: now,
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	m.logger.Info("session started",
		zap.String("session_id", s.ID),
		zap.String("observer_id", s.ObserverID),
	)
	m.notify(s)
	return s.Clone(), nil
}

// End completes an active session. The server tally stays authoritative;
// reported totals are kept alongside for audit.
func (m *Manager) End(ctx context.Context, id string, req EndRequest) (Session, error) {
	if req.DurationSeconds != nil && *req.DurationSeconds < 0 {
		return Session{}, fmt.Errorf("%w: duration_seconds must be >= 0", ErrValidation)
	}

	// The unlocked read lets a caller that queued behind a concurrent
	// terminal transition report a conflict instead of a plain state error.
	before, err := m.store.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}

	var ended Session
	err = m.WithSession(ctx, id, func(s Session) error {
		if s.Status != StatusActive {
			if before.Status == StatusActive {
				return fmt.Errorf("%w: session %s was %s concurrently", ErrConflict, id, s.Status)
			}
			return fmt.Errorf("%w: session %s is %s", ErrInvalidState, id, s.Status)
		}

		now := m.now()
		if now.Before(s.StartedAt) {
			now = s.StartedAt
		}
		s.Status = StatusCompleted
		s.EndedAt = &now
		s.LastActivityAt = now
		if req.DurationSeconds != nil {
			s.DurationSeconds = *req.DurationSeconds
		} else {
			s.DurationSeconds = int64(now.Sub(s.StartedAt) / time.Second)
		}
		reported := Reported{
			IntegrityScore:   req.IntegrityScore,
			FocusLostCount:   req.FocusLostCount,
			SuspiciousEvents: req.SuspiciousEvents,
		}
		if !reported.empty() {
			s.Reported = &reported
			if mismatch(s.Tally, reported) {
				m.logger.Warn("reported counters disagree with server tally",
					zap.String("session_id", id),
					zap.Int("integrity_score", s.IntegrityScore),
					zap.Int("focus_lost_count", s.FocusLostCount),
					zap.Int("suspicious_events", s.SuspiciousEvents),
					zap.Any("reported", reported),
				)
			}
		}
		if err := m.store.UpdateSession(ctx, s, StatusActive); err != nil {
			return err
		}
		ended = s
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	m.logger.Info("session completed",
		zap.String("session_id", id),
		zap.Int("integrity_score", ended.IntegrityScore),
		zap.Int("total_events", ended.TotalEvents),
	)
	m.notify(ended)
	return ended.Clone(), nil
}

// Cancel moves an active session to cancelled.
func (m *Manager) Cancel(ctx context.Context, id, reason string) (Session, error) {
	return m.cancel(ctx, id, reason, false)
}

// Get returns a session visible to viewer. Hidden sessions are reported as
// not found.
func (m *Manager) Get(ctx context.Context, viewer Viewer, id string) (Session, error) {
	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !viewer.CanSee(s) {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// List returns the viewer's sessions, newest first.
func (m *Manager) List(ctx context.Context, viewer Viewer) ([]Session, error) {
	filter, ok := viewer.Filter()
	if !ok {
		return []Session{}, nil
	}
	out, err := m.store.ListSessions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if out == nil {
		out = []Session{}
	}
	return out, nil
}

// WithSession loads the session under its lock and runs fn. Lifecycle
// transitions and event ingestion for one session never overlap; different
// sessions never wait on each other.
func (m *Manager) WithSession(ctx context.Context, id string, fn func(Session) error) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: session id is required", ErrValidation)
	}
	unlock := m.locks.Lock(id)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	return fn(s)
}

func (m *Manager) ActiveCount(ctx context.Context) (int, error) {
	active, err := m.store.ListSessions(ctx, ListFilter{Status: StatusActive})
	if err != nil {
		return 0, err
	}
	return len(active), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireIdle(ctx)
			}
		}
	}()
}

func (m *Manager) expireIdle(ctx context.Context) int {
	active, err := m.store.ListSessions(ctx, ListFilter{Status: StatusActive})
	if err != nil {
		m.logger.Error("idle sweep list failed", zap.Error(err))
		return 0
	}
	expired := 0
	for _, s := range active {
		if m.now().Sub(s.LastActivityAt) < m.idleTimeout {
			continue
		}
		if _, err := m.cancel(ctx, s.ID, EndReasonIdle, true); err != nil {
			if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
				continue
			}
			m.logger.Error("idle sweep cancel failed", zap.String("session_id", s.ID), zap.Error(err))
			continue
		}
		expired++
	}
	return expired
}

// With onlyIdle set, idleness is re-checked under the lock so an ingestion
// that landed after the sweep listed sessions keeps the session alive.
func (m *Manager) cancel(ctx context.Context, id, reason string, onlyIdle bool) (Session, error) {
	var cancelled Session
	err := m.WithSession(ctx, id, func(s Session) error {
		if s.Status != StatusActive {
			return fmt.Errorf("%w: session %s is %s", ErrInvalidState, id, s.Status)
		}
		now := m.now()
		if onlyIdle && now.Sub(s.LastActivityAt) < m.idleTimeout {
			return fmt.Errorf("%w: session %s is no longer idle", ErrInvalidState, id)
		}
		if now.Before(s.StartedAt) {
			now = s.StartedAt
		}
		s.Status = StatusCancelled
		s.EndedAt = &now
		s.DurationSeconds = int64(now.Sub(s.StartedAt) / time.Second)
		s.EndReason = reason
		s.LastActivityAt = now
		if err := m.store.UpdateSession(ctx, s, StatusActive); err != nil {
			return err
		}
		cancelled = s
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	m.logger.Info("session cancelled",
		zap.String("session_id", id),
		zap.String("reason", reason),
	)
	m.notify(cancelled)
	return cancelled.Clone(), nil
}

func (m *Manager) notify(s Session) {
	if m.onChange != nil {
		m.onChange(s.Clone())
	}
}

func mismatch(t Tally, r Reported) bool {
	return (r.IntegrityScore != nil && *r.IntegrityScore != t.IntegrityScore) ||
		(r.FocusLostCount != nil && *r.FocusLostCount != t.FocusLostCount) ||
		(r.SuspiciousEvents != nil && *r.SuspiciousEvents != t.SuspiciousEvents)
}
