package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/proctorwatch/internal/detection"
	"github.com/ent0n29/proctorwatch/internal/scoring"
	"github.com/ent0n29/proctorwatch/internal/session"
)

func countRisk(recs []string) (high, medium, low int) {
	for _, r := range recs {
		switch r {
		case recHighRisk:
			high++
		case recMediumRisk:
			medium++
		case recLowRisk:
			low++
		}
	}
	return
}

func TestRiskLineIsExclusive(t *testing.T) {
	cases := []struct {
		score             int
		high, medium, low int
	}{
		{60, 1, 0, 0},
		{69, 1, 0, 0},
		{70, 0, 1, 0},
		{84, 0, 1, 0},
		{85, 0, 0, 1},
		{90, 0, 0, 1},
	}
	for _, tc := range cases {
		recs := Recommendations(session.Tally{IntegrityScore: tc.score}, 0)
		h, m, l := countRisk(recs)
		if h != tc.high || m != tc.medium || l != tc.low {
			t.Fatalf("score %d risk lines = %d/%d/%d, want %d/%d/%d", tc.score, h, m, l, tc.high, tc.medium, tc.low)
		}
	}
}

func TestRecommendationsAreAdditiveInOrder(t *testing.T) {
	recs := Recommendations(session.Tally{IntegrityScore: 40, FocusLostCount: 11, SuspiciousEvents: 6}, 3)
	want := []string{recHighRisk, recFocus, recNeedsReview, "Phone detected 3 times - potential cheating attempt"}
	if len(recs) != len(want) {
		t.Fatalf("Recommendations() = %v, want %v", recs, want)
	}
	for i := range want {
		if recs[i] != want[i] {
			t.Fatalf("Recommendations()[%d] = %q, want %q", i, recs[i], want[i])
		}
	}

	edge := Recommendations(session.Tally{IntegrityScore: 100, FocusLostCount: 10, SuspiciousEvents: 5}, 0)
	if len(edge) != 1 {
		t.Fatalf("thresholds must be strict: %v", edge)
	}
}

func TestBuildAliceReport(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(5 * time.Minute)
	conf := 0.91
	events := []detection.Event{
		{Seq: 1, Kind: detection.KindNoFace, Severity: detection.SeverityError, Message: "No face", OffsetSec: 12, Confidence: &conf},
		{Seq: 2, Kind: detection.KindFocusLost, Severity: detection.SeverityWarning, Message: "Looked away", OffsetSec: 20},
	}
	s := session.Session{
		ID: "s1", Candidate: session.Candidate{Name: "Alice", Email: "alice@x.com"},
		Status: session.StatusCompleted, StartedAt: start, EndedAt: &end, DurationSeconds: 300,
		Tally: scoring.Replay(events),
	}

	r := Build(s, events, end)
	if r.TotalEvents != 2 || r.ByKind[detection.KindNoFace] != 1 || r.ByKind[detection.KindFocusLost] != 1 {
		t.Fatalf("counts = %+v", r.ByKind)
	}
	if r.Tally.IntegrityScore != 93 || r.RiskTier != RiskLow {
		t.Fatalf("score/tier = %d/%s, want 93/low", r.Tally.IntegrityScore, r.RiskTier)
	}
	if len(r.Recommendations) != 1 || r.Recommendations[0] != recLowRisk {
		t.Fatalf("Recommendations = %v", r.Recommendations)
	}
	if r.Timeline[0].Offset != "00:12" || r.Timeline[1].Offset != "00:20" {
		t.Fatalf("timeline offsets = %q, %q", r.Timeline[0].Offset, r.Timeline[1].Offset)
	}
}

func TestBuildGroupsAliasesButKeepsArrivalTimeline(t *testing.T) {
	events := []detection.Event{
		{Seq: 1, Kind: detection.KindPhone, Severity: detection.SeverityError, OffsetSec: 90},
		{Seq: 2, Kind: detection.KindUnauthorizedItem, Severity: detection.SeverityCritical, OffsetSec: 15},
		{Seq: 3, Kind: detection.KindMultiplePeople, Severity: detection.SeverityError, OffsetSec: 3725},
	}
	s := session.Session{ID: "s1", Status: session.StatusActive, Tally: scoring.Replay(events)}
	r := Build(s, events, time.Now())
	if r.ByKind[detection.KindPhone] != 2 || r.ByKind[detection.KindMultipleFaces] != 1 {
		t.Fatalf("ByKind = %+v", r.ByKind)
	}
	if r.BySeverity[detection.SeverityError] != 2 || r.BySeverity[detection.SeverityCritical] != 1 {
		t.Fatalf("BySeverity = %+v", r.BySeverity)
	}
	if r.Timeline[0].Seq != 1 || r.Timeline[1].Kind != detection.KindUnauthorizedItem {
		t.Fatalf("timeline not in arrival order: %+v", r.Timeline)
	}
	if r.Timeline[2].Offset != "62:05" {
		t.Fatalf("Offset = %q, want 62:05", r.Timeline[2].Offset)
	}
	last := r.Recommendations[len(r.Recommendations)-1]
	if last != "Phone detected 2 times - potential cheating attempt" {
		t.Fatalf("phone recommendation = %q", last)
	}
}

func TestRenderText(t *testing.T) {
	conf := 0.876
	events := []detection.Event{
		{Seq: 1, Kind: detection.KindNoFace, Severity: detection.SeverityError, Message: "No face detected", OffsetSec: 75, Confidence: &conf},
	}
	s := session.Session{ID: "s1", Candidate: session.Candidate{Name: "Alice", Email: "alice@x.com"}, Status: session.StatusActive, Tally: scoring.Replay(events)}
	var buf bytes.Buffer
	if err := Render(&buf, Build(s, events, time.Now())); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"Candidate: Alice",
		"Integrity Score: 95",
		"01:15 - [error] no_face: No face detected (Confidence: 0.88)",
		"1. Low risk candidate - Good behavior",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("Render() output missing %q:\n%s", want, out)
		}
	}
}
