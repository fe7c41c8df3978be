// Package scoring folds detection events into a session's integrity tally.
package scoring

import (
	"github.com/ent0n29/proctorwatch/internal/detection"
	"github.com/ent0n29/proctorwatch/internal/session"
)

const (
	MinScore = 0
	MaxScore = session.InitialScore
)

// Deductions is the point cost per severity tier.
var Deductions = map[detection.Severity]int{
	detection.SeverityInfo:     0,
	detection.SeverityWarning:  2,
	detection.SeverityError:    5,
	detection.SeverityCritical: 5,
}

func Deduction(sev detection.Severity) int {
	return Deductions[sev]
}

// Apply updates every counter for one event. It only touches t, so the
// caller persists all of them together or none at all.
func Apply(t *session.Tally, ev detection.Event) {
	t.IntegrityScore = clamp(t.IntegrityScore - Deduction(ev.Severity))
	t.TotalEvents++
	if ev.Kind.Canonical() == detection.KindFocusLost {
		t.FocusLostCount++
	}
	if ev.Severity.Suspicious() {
		t.SuspiciousEvents++
	}
}

// Replay recomputes a tally from an event log in arrival order.
func Replay(events []detection.Event) session.Tally {
	t := session.NewTally()
	for _, ev := range events {
		Apply(&t, ev)
	}
	return t
}

func clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
