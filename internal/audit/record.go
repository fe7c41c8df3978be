// Package audit mirrors accepted detection events into an analytics sink.
// It is write-only; reads always go to the primary store.
package audit

import (
	"time"

	"github.com/ent0n29/proctorwatch/internal/detection"
	"github.com/ent0n29/proctorwatch/internal/policy"
	"github.com/ent0n29/proctorwatch/internal/session"
)

// EventWriter must never block the caller.
type EventWriter interface {
	Write(rec *Record)
	Close()
}

// Record is one accepted detection event with the session tally it produced.
type Record struct {
	EventID          string
	SessionID        string
	Seq              int64
	Kind             string
	CanonicalKind    string
	Severity         string
	Message          string
	OffsetSeconds    int64
	Confidence       *float64
	Metadata         string
	ReceivedAt       time.Time
	ObserverID       string
	CandidateEmail   string
	ScoreAfter       int32
	FocusLostAfter   int32
	SuspiciousAfter  int32
	TotalEventsAfter int32
}

// NewRecord copies ev and the tally it produced. Free text and the candidate
// contact are redacted; the analytics sink never sees raw PII.
func NewRecord(ev detection.Event, s session.Session) *Record {
	message, _ := policy.RedactPII(ev.Message)
	rec := &Record{
		EventID:          ev.ID,
		SessionID:        ev.SessionID,
		Seq:              ev.Seq,
		Kind:             string(ev.Kind),
		CanonicalKind:    string(ev.Kind.Canonical()),
		Severity:         string(ev.Severity),
		Message:          message,
		OffsetSeconds:    ev.OffsetSec,
		Metadata:         string(ev.Metadata),
		ReceivedAt:       ev.ReceivedAt,
		ObserverID:       s.ObserverID,
		CandidateEmail:   policy.MaskEmail(s.Candidate.Email),
		ScoreAfter:       int32(s.IntegrityScore),
		FocusLostAfter:   int32(s.FocusLostCount),
		SuspiciousAfter:  int32(s.SuspiciousEvents),
		TotalEventsAfter: int32(s.TotalEvents),
	}
	if ev.Confidence != nil {
		c := *ev.Confidence
		rec.Confidence = &c
	}
	return rec
}

// Mirror feeds accepted events from the ingest path into a writer.
type Mirror struct {
	w EventWriter
}

func NewMirror(w EventWriter) *Mirror {
	return &Mirror{w: w}
}

func (m *Mirror) EventAccepted(ev detection.Event, s session.Session) {
	m.w.Write(NewRecord(ev, s))
}
