package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zapcore"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.Observe(StageIngest, 5*time.Millisecond)
	w.Observe(StageIngest, 7*time.Millisecond)
	w.Observe(StageIngest, 9*time.Millisecond)
	w.ObserveIndicator("fanout_drop_queue_full")
	w.ObserveIndicator("fanout_drop_queue_full")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Samples != 3 || s.LastMS != 9 || s.P50MS != 7 {
		t.Fatalf("stage stats = %+v", s)
	}
	if s.P95MS <= 7 || s.P95MS > 9 {
		t.Fatalf("P95MS = %.2f, want (7,9]", s.P95MS)
	}
	if s.TargetP95MS != 50 {
		t.Fatalf("TargetP95MS = %.2f, want 50", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v", snap.Indicators)
	}
}

func TestStageWindowWraps(t *testing.T) {
	w := newStageWindow(2)
	for i := 1; i <= 5; i++ {
		w.Observe(StageAuditFlush, time.Duration(i)*time.Millisecond)
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 2 || s.AvgMS != 4.5 {
		t.Fatalf("stage stats = %+v, want 2 samples avg 4.5", s)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.SessionEvent("started")
	m.DetectionAccepted("phone", "error")
	m.FanoutDrop("queue_full")
	m.ObserveIngestLatency(time.Millisecond)
	if snap := m.SnapshotStages(); len(snap.Stages) != 0 {
		t.Fatalf("nil metrics snapshot = %+v", snap)
	}
}

func TestMetricsExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg, "pw_test")
	m.DetectionAccepted("no_face", "error")
	m.IngestRejected("validation")
	m.SetActiveSessions(3)

	rec := httptest.NewRecorder()
	MetricsHandlerFor(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`pw_test_detection_events_total{kind="no_face",severity="error"} 1`,
		`pw_test_ingest_rejections_total{reason="validation"} 1`,
		`pw_test_active_sessions 3`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestBuildLogger(t *testing.T) {
	logger, err := BuildLogger("debug")
	if err != nil {
		t.Fatalf("BuildLogger() error = %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug level not enabled")
	}
}
