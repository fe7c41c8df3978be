// Package debounce turns noisy per-tick vision signals into discrete,
// rate-limited violation events.
//
// Sustained conditions (face absent, gaze off screen) must hold continuously
// for their threshold before a violation is emitted, and then re-emit at most
// once per threshold window. Instant conditions (extra faces, restricted
// objects) emit on the tick they are seen, bounded by a short per-kind
// cool-down. Every kind keeps its own cool-down.
package debounce

import (
	"fmt"
	"time"

	"github.com/ent0n29/proctorwatch/internal/detection"
)

const (
	defaultFaceAbsence          = 10 * time.Second
	defaultFocusLoss            = 5 * time.Second
	defaultTick                 = time.Second
	defaultInstantCooldownTicks = 3
)

// Signal is one tick of raw vision output. Each confidence is the
// detector's confidence in the reading it accompanies.
type Signal struct {
	At             time.Time
	FacePresent    bool
	FaceCount      int
	FaceConfidence float64
	GazeOnScreen   bool
	GazeConfidence float64
	Objects        map[detection.ObjectClass]float64
}

// Snapshot is the part of the triggering signal attached to a violation as
// metadata.
type Snapshot struct {
	FacePresent  bool     `json:"face_present"`
	FaceCount    int      `json:"face_count"`
	GazeOnScreen bool     `json:"gaze_on_screen"`
	Objects      []string `json:"objects,omitempty"`
}

// Violation is one debounced detection, ready to be reported as an event.
type Violation struct {
	Kind       detection.Kind
	Severity   detection.Severity
	Message    string
	Confidence float64
	At         time.Time
	OffsetSec  int64
	Snapshot   Snapshot
}

// Config sets the continuity thresholds and the monitor cadence. Zero
// fields fall back to DefaultConfig.
type Config struct {
	FaceAbsence          time.Duration
	FocusLoss            time.Duration
	Tick                 time.Duration
	InstantCooldownTicks int
}

// DefaultConfig returns a 10s face-absence threshold, a 5s focus-loss
// threshold and a 1s tick with a three-tick instant cooldown.
func DefaultConfig() Config {
	return Config{
		FaceAbsence:          defaultFaceAbsence,
		FocusLoss:            defaultFocusLoss,
		Tick:                 defaultTick,
		InstantCooldownTicks: defaultInstantCooldownTicks,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.FaceAbsence <= 0 {
		c.FaceAbsence = d.FaceAbsence
	}
	if c.FocusLoss <= 0 {
		c.FocusLoss = d.FocusLoss
	}
	if c.Tick <= 0 {
		c.Tick = d.Tick
	}
	if c.InstantCooldownTicks <= 0 {
		c.InstantCooldownTicks = d.InstantCooldownTicks
	}
	return c
}

// InstantCooldown is the minimum spacing between two emissions of the same
// instant kind.
func (c Config) InstantCooldown() time.Duration {
	c = c.normalized()
	return c.Tick * time.Duration(c.InstantCooldownTicks)
}

// State is the per-session debounce memory. It is a value: Evaluate never
// mutates the State it is given.
type State struct {
	StartedAt          time.Time
	LastFacePresentAt  time.Time
	LastGazeOnScreenAt time.Time
	LastEmitted        map[detection.Kind]time.Time
}

// NewState starts continuity tracking at startedAt, so absence is measured
// from the session start until a present tick is seen.
func NewState(startedAt time.Time) State {
	return State{
		StartedAt:          startedAt,
		LastFacePresentAt:  startedAt,
		LastGazeOnScreenAt: startedAt,
		LastEmitted:        make(map[detection.Kind]time.Time),
	}
}

func (s State) clone() State {
	out := s
	out.LastEmitted = make(map[detection.Kind]time.Time, len(s.LastEmitted))
	for k, v := range s.LastEmitted {
		out.LastEmitted[k] = v
	}
	return out
}

func (s State) cooled(k detection.Kind, now time.Time, cooldown time.Duration) bool {
	last, ok := s.LastEmitted[k]
	if !ok {
		return true
	}
	return now.Sub(last) >= cooldown
}

// objectOrder fixes the emission order of instant object violations.
var objectOrder = []detection.ObjectClass{detection.ObjectPhone, detection.ObjectNotes, detection.ObjectDevice}

// Evaluate folds one signal into the state and returns the next state and
// the violations emitted on this tick, in a stable order.
func Evaluate(cfg Config, st State, sig Signal) (State, []Violation) {
	cfg = cfg.normalized()
	next := st.clone()
	now := sig.At

	// A resolved condition restarts its continuity window and clears its
	// cool-down so a fresh absence is judged on its own.
	if sig.FacePresent {
		next.LastFacePresentAt = now
		delete(next.LastEmitted, detection.KindNoFace)
	}
	if sig.GazeOnScreen {
		next.LastGazeOnScreenAt = now
		delete(next.LastEmitted, detection.KindFocusLost)
	}

	snap := snapshotOf(sig)
	var out []Violation
	emit := func(k detection.Kind, msg string, conf float64) {
		p := detection.ProfileFor(k)
		if msg == "" {
			msg = p.Message
		}
		next.LastEmitted[k] = now
		out = append(out, Violation{
			Kind:       k,
			Severity:   p.Severity,
			Message:    msg,
			Confidence: clampConfidence(conf),
			At:         now,
			OffsetSec:  offsetSeconds(st.StartedAt, now),
			Snapshot:   snap,
		})
	}

	if !sig.FacePresent &&
		now.Sub(next.LastFacePresentAt) >= cfg.FaceAbsence &&
		next.cooled(detection.KindNoFace, now, cfg.FaceAbsence) {
		emit(detection.KindNoFace, fmt.Sprintf("No face detected in frame for over %s", humanSeconds(cfg.FaceAbsence)), sig.FaceConfidence)
	}
	if !sig.GazeOnScreen &&
		now.Sub(next.LastGazeOnScreenAt) >= cfg.FocusLoss &&
		next.cooled(detection.KindFocusLost, now, cfg.FocusLoss) {
		emit(detection.KindFocusLost, fmt.Sprintf("Candidate not looking at screen for over %s", humanSeconds(cfg.FocusLoss)), sig.GazeConfidence)
	}

	instant := cfg.InstantCooldown()
	if sig.FaceCount > 1 && next.cooled(detection.KindMultipleFaces, now, instant) {
		emit(detection.KindMultipleFaces, "", sig.FaceConfidence)
	}
	for _, class := range objectOrder {
		conf, seen := sig.Objects[class]
		if !seen {
			continue
		}
		k := class.Kind()
		if next.cooled(k, now, instant) {
			emit(k, "", conf)
		}
	}

	return next, out
}

func snapshotOf(sig Signal) Snapshot {
	snap := Snapshot{
		FacePresent:  sig.FacePresent,
		FaceCount:    sig.FaceCount,
		GazeOnScreen: sig.GazeOnScreen,
	}
	for _, class := range objectOrder {
		if _, ok := sig.Objects[class]; ok {
			snap.Objects = append(snap.Objects, string(class))
		}
	}
	return snap
}

func offsetSeconds(start, now time.Time) int64 {
	if start.IsZero() || now.Before(start) {
		return 0
	}
	return int64(now.Sub(start) / time.Second)
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func humanSeconds(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs == 1 {
		return "1 second"
	}
	return fmt.Sprintf("%d seconds", secs)
}
