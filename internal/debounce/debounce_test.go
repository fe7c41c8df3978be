package debounce

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/proctorwatch/internal/detection"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func present(sec int) Signal {
	return Signal{At: at(sec), FacePresent: true, FaceCount: 1, FaceConfidence: 0.9, GazeOnScreen: true, GazeConfidence: 0.9}
}

// absent keeps gaze on screen so only the face condition is exercised.
func absent(sec int) Signal {
	return Signal{At: at(sec), FacePresent: false, FaceConfidence: 0.9, GazeOnScreen: true}
}

func runTicks(cfg Config, st State, signals []Signal) (State, []Violation) {
	var all []Violation
	for _, sig := range signals {
		var vs []Violation
		st, vs = Evaluate(cfg, st, sig)
		all = append(all, vs...)
	}
	return st, all
}

func countKind(vs []Violation, k detection.Kind) int {
	n := 0
	for _, v := range vs {
		if v.Kind == k {
			n++
		}
	}
	return n
}

func TestNoFaceEmitsOnceAtThreshold(t *testing.T) {
	var signals []Signal
	for s := 1; s <= 10; s++ {
		signals = append(signals, absent(s))
	}
	_, vs := runTicks(DefaultConfig(), NewState(t0), signals)
	if got := countKind(vs, detection.KindNoFace); got != 1 {
		t.Fatalf("no_face count = %d, want 1", got)
	}
	if vs[0].OffsetSec != 10 {
		t.Fatalf("OffsetSec = %d, want 10", vs[0].OffsetSec)
	}
	if vs[0].Severity != detection.SeverityError {
		t.Fatalf("Severity = %q, want error", vs[0].Severity)
	}
}

func TestNoFaceOncePerThresholdWindow(t *testing.T) {
	var signals []Signal
	for s := 1; s <= 30; s++ {
		signals = append(signals, absent(s))
	}
	_, vs := runTicks(DefaultConfig(), NewState(t0), signals)
	if got := countKind(vs, detection.KindNoFace); got != 3 {
		t.Fatalf("no_face count = %d, want 3", got)
	}
}

func TestNoFaceBelowThresholdDoesNotEmit(t *testing.T) {
	var signals []Signal
	for s := 1; s <= 9; s++ {
		signals = append(signals, absent(s))
	}
	_, vs := runTicks(DefaultConfig(), NewState(t0), signals)
	if len(vs) != 0 {
		t.Fatalf("violations = %d, want 0", len(vs))
	}
}

func TestPresentTickResetsContinuity(t *testing.T) {
	var signals []Signal
	for s := 1; s <= 6; s++ {
		signals = append(signals, absent(s))
	}
	signals = append(signals, present(7))
	for s := 8; s <= 13; s++ {
		signals = append(signals, absent(s))
	}
	st, vs := runTicks(DefaultConfig(), NewState(t0), signals)
	if got := countKind(vs, detection.KindNoFace); got != 0 {
		t.Fatalf("no_face count = %d, want 0", got)
	}
	if !st.LastFacePresentAt.Equal(at(7)) {
		t.Fatalf("LastFacePresentAt = %v, want %v", st.LastFacePresentAt, at(7))
	}
}

func TestReabsenceAfterRecoveryEmitsAgain(t *testing.T) {
	var signals []Signal
	for s := 1; s <= 10; s++ {
		signals = append(signals, absent(s))
	}
	signals = append(signals, present(11))
	for s := 12; s <= 21; s++ {
		signals = append(signals, absent(s))
	}
	_, vs := runTicks(DefaultConfig(), NewState(t0), signals)
	if got := countKind(vs, detection.KindNoFace); got != 2 {
		t.Fatalf("no_face count = %d, want 2", got)
	}
}

func TestFocusLostUsesItsOwnThreshold(t *testing.T) {
	var signals []Signal
	for s := 1; s <= 10; s++ {
		signals = append(signals, Signal{At: at(s), FacePresent: true, FaceCount: 1, GazeOnScreen: false, GazeConfidence: 0.8})
	}
	_, vs := runTicks(DefaultConfig(), NewState(t0), signals)
	if got := countKind(vs, detection.KindFocusLost); got != 2 {
		t.Fatalf("focus_lost count = %d, want 2", got)
	}
	if got := countKind(vs, detection.KindNoFace); got != 0 {
		t.Fatalf("no_face count = %d, want 0", got)
	}
	if vs[0].Severity != detection.SeverityWarning {
		t.Fatalf("Severity = %q, want warning", vs[0].Severity)
	}
	if vs[0].Confidence != 0.8 {
		t.Fatalf("Confidence = %v, want 0.8", vs[0].Confidence)
	}
}

func TestInstantKindsHaveIndependentCooldowns(t *testing.T) {
	cfg := DefaultConfig() // 3s instant cool-down
	var signals []Signal
	for s := 1; s <= 6; s++ {
		sig := present(s)
		sig.Objects = map[detection.ObjectClass]float64{detection.ObjectPhone: 0.85}
		if s >= 2 {
			sig.FaceCount = 2
		}
		signals = append(signals, sig)
	}
	_, vs := runTicks(cfg, NewState(t0), signals)
	// phone at 1 and 4; multiple_faces at 2 and 5.
	if got := countKind(vs, detection.KindPhone); got != 2 {
		t.Fatalf("phone count = %d, want 2", got)
	}
	if got := countKind(vs, detection.KindMultipleFaces); got != 2 {
		t.Fatalf("multiple_faces count = %d, want 2", got)
	}
	if vs[0].Kind != detection.KindPhone || vs[0].OffsetSec != 1 {
		t.Fatalf("first violation = %+v, want phone at 1s", vs[0])
	}
}

func TestEvaluateDoesNotMutateInputState(t *testing.T) {
	st := NewState(t0)
	sig := present(1)
	sig.Objects = map[detection.ObjectClass]float64{detection.ObjectDevice: 0.88}
	next, vs := Evaluate(DefaultConfig(), st, sig)
	if len(vs) != 1 {
		t.Fatalf("violations = %d, want 1", len(vs))
	}
	if len(st.LastEmitted) != 0 {
		t.Fatalf("input state LastEmitted mutated: %+v", st.LastEmitted)
	}
	if _, ok := next.LastEmitted[detection.KindDevice]; !ok {
		t.Fatalf("next state missing device cool-down")
	}
	if vs[0].Snapshot.Objects[0] != "device" {
		t.Fatalf("snapshot objects = %v, want [device]", vs[0].Snapshot.Objects)
	}
}

func TestConfidenceIsClamped(t *testing.T) {
	sig := present(1)
	sig.Objects = map[detection.ObjectClass]float64{detection.ObjectNotes: 1.7}
	_, vs := Evaluate(DefaultConfig(), NewState(t0), sig)
	if len(vs) != 1 || vs[0].Confidence != 1 {
		t.Fatalf("violations = %+v, want one with confidence 1", vs)
	}
}

type recordingSink struct {
	mu  sync.Mutex
	got []Violation
}

func (s *recordingSink) Emit(_ context.Context, v Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, v)
	return nil
}

func TestMonitorRunsScriptedSourceToEnd(t *testing.T) {
	var signals []Signal
	for s := 1; s <= 20; s++ {
		signals = append(signals, absent(s))
	}
	sink := &recordingSink{}
	cfg := DefaultConfig()
	cfg.Tick = time.Millisecond
	// Signals carry their own timestamps, so thresholds apply in virtual
	// seconds regardless of the tick rate.
	m := NewMonitor(cfg, NewScriptedSource(signals), sink, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Run(ctx, t0); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := countKind(sink.got, detection.KindNoFace); got != 2 {
		t.Fatalf("no_face emitted = %d, want 2", got)
	}
	if m.Emitted() != len(sink.got) {
		t.Fatalf("Emitted() = %d, want %d", m.Emitted(), len(sink.got))
	}
}

func TestRandomSourceIsDeterministicPerSeed(t *testing.T) {
	a := NewRandomSource(7, Probabilities{})
	b := NewRandomSource(7, Probabilities{})
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		sa, _ := a.Next(ctx)
		sb, _ := b.Next(ctx)
		if sa.FacePresent != sb.FacePresent || sa.FaceCount != sb.FaceCount || len(sa.Objects) != len(sb.Objects) {
			t.Fatalf("tick %d diverged: %+v vs %+v", i, sa, sb)
		}
	}
}

func TestZeroConfigUsesDefaults(t *testing.T) {
	d := DefaultConfig()
	if d.FaceAbsence != 10*time.Second || d.FocusLoss != 5*time.Second || d.Tick != time.Second || d.InstantCooldownTicks != 3 {
		t.Fatalf("DefaultConfig() = %+v", d)
	}
	if got, want := (Config{}).InstantCooldown(), 3*time.Second; got != want {
		t.Fatalf("Config{}.InstantCooldown() = %v, want %v", got, want)
	}

	// A session that never shows a face is absent from its start.
	_, vs := runTicks(Config{}, NewState(t0), []Signal{absent(9), absent(10)})
	if n := countKind(vs, detection.KindNoFace); n != 1 {
		t.Fatalf("no_face count = %d, want 1 at the default threshold", n)
	}
}
