// Package report summarizes a session's detection log after (or during) an
// interview.
package report

import (
	"fmt"
	"time"

	"github.com/ent0n29/proctorwatch/internal/detection"
	"github.com/ent0n29/proctorwatch/internal/session"
)

type RiskTier string

const (
	RiskHigh   RiskTier = "high"
	RiskMedium RiskTier = "medium"
	RiskLow    RiskTier = "low"
)

// Score thresholds for the risk tiers: below highRiskBelow is high risk,
// below mediumRiskBelow is medium.
const (
	highRiskBelow   = 70
	mediumRiskBelow = 85

	frequentFocusLossAbove = 10
	needsReviewAbove       = 5
)

const (
	recHighRisk    = "High risk candidate - Multiple violations detected"
	recMediumRisk  = "Medium risk candidate - Some concerns observed"
	recLowRisk     = "Low risk candidate - Good behavior"
	recFocus       = "Candidate frequently lost focus"
	recNeedsReview = "Multiple suspicious activities detected - needs review"
	recPhoneFormat = "Phone detected %d times - potential cheating attempt"
)

type TimelineEntry struct {
	Seq        int64              `json:"seq"`
	Offset     string             `json:"offset"`
	OffsetSec  int64              `json:"offset_seconds"`
	Kind       detection.Kind     `json:"kind"`
	Severity   detection.Severity `json:"severity"`
	Message    string             `json:"message"`
	Confidence *float64           `json:"confidence,omitempty"`
}

type Report struct {
	SessionID       string                     `json:"session_id"`
	Candidate       session.Candidate          `json:"candidate"`
	ObserverID      string                     `json:"observer_id,omitempty"`
	Status          session.Status             `json:"status"`
	StartedAt       time.Time                  `json:"started_at"`
	EndedAt         *time.Time                 `json:"ended_at,omitempty"`
	DurationSeconds int64                      `json:"duration_seconds"`
	EndReason       string                     `json:"end_reason,omitempty"`
	Tally           session.Tally              `json:"tally"`
	TotalEvents     int                        `json:"total_events"`
	RiskTier        RiskTier                   `json:"risk_tier"`
	ByKind          map[detection.Kind]int     `json:"by_kind"`
	BySeverity      map[detection.Severity]int `json:"by_severity"`
	Timeline        []TimelineEntry            `json:"timeline"`
	Recommendations []string                   `json:"recommendations"`
	GeneratedAt     time.Time                  `json:"generated_at"`
}

// Build aggregates events, which must be in arrival order, against the
// session's authoritative tally. It is recomputed on every call.
func Build(s session.Session, events []detection.Event, now time.Time) Report {
	r := Report{
		SessionID:       s.ID,
		Candidate:       s.Candidate,
		ObserverID:      s.ObserverID,
		Status:          s.Status,
		StartedAt:       s.StartedAt,
		EndedAt:         s.EndedAt,
		DurationSeconds: s.DurationSeconds,
		EndReason:       s.EndReason,
		Tally:           s.Tally,
		TotalEvents:     len(events),
		RiskTier:        Tier(s.IntegrityScore),
		ByKind:          make(map[detection.Kind]int),
		BySeverity:      make(map[detection.Severity]int),
		Timeline:        make([]TimelineEntry, 0, len(events)),
		GeneratedAt:     now,
	}
	if s.Status == session.StatusActive && s.EndedAt == nil {
		r.DurationSeconds = int64(now.Sub(s.StartedAt) / time.Second)
	}

	for _, ev := range events {
		r.ByKind[ev.Kind.Canonical()]++
		r.BySeverity[ev.Severity]++
		entry := TimelineEntry{
			Seq:       ev.Seq,
			Offset:    FormatOffset(ev.OffsetSec),
			OffsetSec: ev.OffsetSec,
			Kind:      ev.Kind,
			Severity:  ev.Severity,
			Message:   ev.Message,
		}
		if ev.Confidence != nil {
			c := *ev.Confidence
			entry.Confidence = &c
		}
		r.Timeline = append(r.Timeline, entry)
	}
	r.Recommendations = Recommendations(s.Tally, r.ByKind[detection.KindPhone])
	return r
}

func Tier(score int) RiskTier {
	switch {
	case score < highRiskBelow:
		return RiskHigh
	case score < mediumRiskBelow:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Recommendations always starts with exactly one risk line; the remaining
// notes are appended in a fixed order.
func Recommendations(t session.Tally, phoneCount int) []string {
	recs := make([]string, 0, 4)
	switch Tier(t.IntegrityScore) {
	case RiskHigh:
		recs = append(recs, recHighRisk)
	case RiskMedium:
		recs = append(recs, recMediumRisk)
	default:
		recs = append(recs, recLowRisk)
	}
	if t.FocusLostCount > frequentFocusLossAbove {
		recs = append(recs, recFocus)
	}
	if t.SuspiciousEvents > needsReviewAbove {
		recs = append(recs, recNeedsReview)
	}
	if phoneCount > 0 {
		recs = append(recs, fmt.Sprintf(recPhoneFormat, phoneCount))
	}
	return recs
}

// FormatOffset renders a session offset as mm:ss. Minutes are not capped.
func FormatOffset(sec int64) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}
