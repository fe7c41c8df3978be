package session

import (
	"strings"
	"time"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func ParseStatus(raw string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusActive:
		return StatusActive, true
	case StatusCompleted:
		return StatusCompleted, true
	case StatusCancelled:
		return StatusCancelled, true
	}
	return "", false
}

const InitialScore = 100

type Candidate struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Tally holds the counters owned by the scoring engine.
type Tally struct {
	IntegrityScore   int `json:"integrity_score"`
	FocusLostCount   int `json:"focus_lost_count"`
	SuspiciousEvents int `json:"suspicious_events"`
	TotalEvents      int `json:"total_events"`
}

func NewTally() Tally {
	return Tally{IntegrityScore: InitialScore}
}

// Reported keeps what the observer claimed at end time. It is never used for
// scoring.
type Reported struct {
	IntegrityScore   *int `json:"integrity_score,omitempty"`
	FocusLostCount   *int `json:"focus_lost_count,omitempty"`
	SuspiciousEvents *int `json:"suspicious_events,omitempty"`
}

func (r Reported) empty() bool {
	return r.IntegrityScore == nil && r.FocusLostCount == nil && r.SuspiciousEvents == nil
}

type Session struct {
	ID              string     `json:"session_id"`
	Candidate       Candidate  `json:"candidate"`
	ObserverID      string     `json:"observer_id,omitempty"`
	Status          Status     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int64      `json:"duration_seconds"`
	Tally
	Reported       *Reported `json:"reported,omitempty"`
	EndReason      string    `json:"end_reason,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Clone returns a copy that shares no pointers with s.
func (s Session) Clone() Session {
	out := s
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	if s.Reported != nil {
		r := Reported{
			IntegrityScore:   cloneInt(s.Reported.IntegrityScore),
			FocusLostCount:   cloneInt(s.Reported.FocusLostCount),
			SuspiciousEvents: cloneInt(s.Reported.SuspiciousEvents),
		}
		out.Reported = &r
	}
	return out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// CreateRequest defines payload for starting a monitored session.
type CreateRequest struct {
	CandidateName  string `json:"candidate_name"`
	CandidateEmail string `json:"candidate_email"`
	ObserverID     string `json:"observer_id"`
}

// EndRequest carries the observer-reported totals at session end.
type EndRequest struct {
	DurationSeconds  *int64 `json:"duration_seconds"`
	IntegrityScore   *int   `json:"integrity_score"`
	FocusLostCount   *int   `json:"focus_lost_count"`
	SuspiciousEvents *int   `json:"suspicious_events"`
}

type ListFilter struct {
	ObserverID     string
	CandidateEmail string
	Status         Status
}

func (f ListFilter) Match(s Session) bool {
	if f.ObserverID != "" && s.ObserverID != f.ObserverID {
		return false
	}
	if f.CandidateEmail != "" && !strings.EqualFold(s.Candidate.Email, f.CandidateEmail) {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	return true
}
