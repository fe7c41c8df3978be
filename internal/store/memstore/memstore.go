// Package memstore keeps sessions and their event logs in process memory.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ent0n29/proctorwatch/internal/detection"
	"github.com/ent0n29/proctorwatch/internal/session"
)

type Store struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
	events   map[string][]detection.Event
}

func New() *Store {
	return &Store{
		sessions: make(map[string]session.Session),
		events:   make(map[string][]detection.Event),
	}
}

func (s *Store) CreateSession(_ context.Context, sess session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return session.Session{}, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	return sess.Clone(), nil
}

func (s *Store) ListSessions(_ context.Context, filter session.ListFilter) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if filter.Match(sess) {
			out = append(out, sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

func (s *Store) UpdateSession(_ context.Context, sess session.Session, expect session.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[sess.ID]
	if !ok {
		return fmt.Errorf("%w: %s", session.ErrNotFound, sess.ID)
	}
	if cur.Status != expect {
		return fmt.Errorf("%w: session %s is %s, expected %s", session.ErrConflict, sess.ID, cur.Status, expect)
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *Store) AppendEvent(_ context.Context, ev detection.Event, updated session.Session) (detection.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[ev.SessionID]
	if !ok {
		return detection.Event{}, fmt.Errorf("%w: %s", session.ErrNotFound, ev.SessionID)
	}
	if cur.Status != session.StatusActive {
		return detection.Event{}, fmt.Errorf("%w: session %s is %s", session.ErrConflict, ev.SessionID, cur.Status)
	}
	ev = ev.Clone()
	ev.Seq = int64(len(s.events[ev.SessionID]) + 1)
	s.events[ev.SessionID] = append(s.events[ev.SessionID], ev)
	s.sessions[ev.SessionID] = updated.Clone()
	return ev.Clone(), nil
}

func (s *Store) ListEvents(_ context.Context, sessionID string) ([]detection.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.events[sessionID]
	out := make([]detection.Event, len(src))
	for i, ev := range src {
		out[i] = ev.Clone()
	}
	return out, nil
}

// DeleteSession removes a session and, with it, its whole event log.
func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	delete(s.sessions, id)
	delete(s.events, id)
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
