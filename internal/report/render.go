package report

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/ent0n29/proctorwatch/internal/detection"
)

var severityOrder = []detection.Severity{
	detection.SeverityCritical, detection.SeverityError, detection.SeverityWarning, detection.SeverityInfo,
}

// Render writes r as a plain-text document.
func Render(w io.Writer, r Report) error {
	bw := bufio.NewWriter(w)
	p := func(format string, args ...any) { fmt.Fprintf(bw, format+"\n", args...) }

	p("Interview Proctoring Report")
	p("===========================")
	p("")
	p("Candidate: %s", r.Candidate.Name)
	p("Email: %s", r.Candidate.Email)
	p("Session ID: %s", r.SessionID)
	p("Start: %s", r.StartedAt.Format(time.RFC3339))
	if r.EndedAt != nil {
		p("End: %s", r.EndedAt.Format(time.RFC3339))
	} else {
		p("End: -")
	}
	p("Duration: %s", (time.Duration(r.DurationSeconds) * time.Second).String())
	p("Status: %s", r.Status)
	if r.EndReason != "" {
		p("End reason: %s", r.EndReason)
	}
	p("")

	p("Statistics")
	p("----------")
	p("Integrity Score: %d", r.Tally.IntegrityScore)
	p("Focus Lost Count: %d", r.Tally.FocusLostCount)
	p("Suspicious Events: %d", r.Tally.SuspiciousEvents)
	p("Total Detections: %d", r.TotalEvents)
	p("Risk Tier: %s", r.RiskTier)
	p("")

	p("Detection Summary")
	p("-----------------")
	p("By Type:")
	kinds := make([]string, 0, len(r.ByKind))
	for k := range r.ByKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		p(" - %s: %d", k, r.ByKind[detection.Kind(k)])
	}
	p("By Severity:")
	for _, sev := range severityOrder {
		if n := r.BySeverity[sev]; n > 0 {
			p(" - %s: %d", sev, n)
		}
	}
	p("")

	p("Timeline")
	p("--------")
	if len(r.Timeline) == 0 {
		p("(no detections)")
	}
	for _, e := range r.Timeline {
		p("%s - [%s] %s: %s (Confidence: %s)", e.Offset, e.Severity, e.Kind, e.Message, formatConfidence(e.Confidence))
	}
	p("")

	p("Recommendations")
	p("---------------")
	for i, rec := range r.Recommendations {
		p("%d. %s", i+1, rec)
	}
	return bw.Flush()
}

func formatConfidence(c *float64) string {
	if c == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*c, 'f', 2, 64)
}
