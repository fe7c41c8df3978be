package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ent0n29/proctorwatch/internal/detection"
	"github.com/ent0n29/proctorwatch/internal/session"
)

func seed(t *testing.T, s *Store, id string, at time.Time) session.Session {
	t.Helper()
	sess := session.Session{ID: id, Status: session.StatusActive, StartedAt: at, Tally: session.NewTally()}
	if err := s.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	return sess
}

func TestAppendAssignsArrivalSequence(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess := seed(t, s, "s1", time.Now())

	for i, off := range []int64{30, 10, 20} {
		next := sess
		next.TotalEvents = i + 1
		ev, err := s.AppendEvent(ctx, detection.Event{ID: "e", SessionID: "s1", OffsetSec: off}, next)
		if err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
		if ev.Seq != int64(i+1) {
			t.Fatalf("Seq = %d, want %d", ev.Seq, i+1)
		}
	}
	events, _ := s.ListEvents(ctx, "s1")
	if len(events) != 3 || events[0].OffsetSec != 30 || events[2].OffsetSec != 20 {
		t.Fatalf("ListEvents() = %+v, want arrival order", events)
	}
	got, _ := s.GetSession(ctx, "s1")
	if got.TotalEvents != 3 {
		t.Fatalf("TotalEvents = %d, want 3", got.TotalEvents)
	}
}

func TestAppendRejectsInactiveSession(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess := seed(t, s, "s1", time.Now())
	ended := sess
	ended.Status = session.StatusCompleted
	if err := s.UpdateSession(ctx, ended, session.StatusActive); err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}
	_, err := s.AppendEvent(ctx, detection.Event{SessionID: "s1"}, sess)
	if !errors.Is(err, session.ErrConflict) {
		t.Fatalf("AppendEvent() error = %v, want ErrConflict", err)
	}
	if events, _ := s.ListEvents(ctx, "s1"); len(events) != 0 {
		t.Fatalf("events = %d, want 0", len(events))
	}
}

func TestUpdateSessionCompareAndSet(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess := seed(t, s, "s1", time.Now())
	sess.Status = session.StatusCancelled
	if err := s.UpdateSession(ctx, sess, session.StatusCompleted); !errors.Is(err, session.ErrConflict) {
		t.Fatalf("UpdateSession() error = %v, want ErrConflict", err)
	}
	if err := s.UpdateSession(ctx, session.Session{ID: "nope"}, session.StatusActive); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("UpdateSession() error = %v, want ErrNotFound", err)
	}
}

func TestListSessionsFiltersNewestFirst(t *testing.T) {
	s := New()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		sess := session.Session{ID: id, Status: session.StatusActive, StartedAt: base.Add(time.Duration(i) * time.Minute), ObserverID: "o1"}
		if id == "b" {
			sess.ObserverID = "o2"
		}
		_ = s.CreateSession(context.Background(), sess)
	}
	got, _ := s.ListSessions(context.Background(), session.ListFilter{ObserverID: "o1"})
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "a" {
		t.Fatalf("ListSessions() = %+v", got)
	}
}

func TestDeleteSessionCascadesEvents(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess := seed(t, s, "s1", time.Now())
	_, _ = s.AppendEvent(ctx, detection.Event{SessionID: "s1"}, sess)
	if err := s.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if events, _ := s.ListEvents(ctx, "s1"); len(events) != 0 {
		t.Fatalf("events after delete = %d, want 0", len(events))
	}
	if _, err := s.GetSession(ctx, "s1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("GetSession() error = %v, want ErrNotFound", err)
	}
}

func TestReturnedEventsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess := seed(t, s, "s1", time.Now())
	conf := 0.5
	_, _ = s.AppendEvent(ctx, detection.Event{SessionID: "s1", Confidence: &conf}, sess)
	events, _ := s.ListEvents(ctx, "s1")
	*events[0].Confidence = 0.9
	again, _ := s.ListEvents(ctx, "s1")
	if *again[0].Confidence != 0.5 {
		t.Fatalf("stored event mutated through returned copy")
	}
}
