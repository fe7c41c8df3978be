package debounce

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/ent0n29/proctorwatch/internal/detection"
)

// ScriptedSource replays a fixed list of signals, then reports io.EOF.
type ScriptedSource struct {
	mu      sync.Mutex
	signals []Signal
	pos     int
}

func NewScriptedSource(signals []Signal) *ScriptedSource {
	return &ScriptedSource{signals: append([]Signal(nil), signals...)}
}

func (s *ScriptedSource) Next(ctx context.Context) (Signal, error) {
	if err := ctx.Err(); err != nil {
		return Signal{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.signals) {
		return Signal{}, io.EOF
	}
	sig := s.signals[s.pos]
	s.pos++
	return sig, nil
}

// Probabilities drive RandomSource. Zero values fall back to the defaults
// used by the browser-side simulation.
type Probabilities struct {
	FacePresent   float64
	MultipleFaces float64
	GazeOnScreen  float64
	Phone         float64
	Notes         float64
	Device        float64
}

func DefaultProbabilities() Probabilities {
	return Probabilities{
		FacePresent:   0.90,
		MultipleFaces: 0.05,
		GazeOnScreen:  0.85,
		Phone:         0.01,
		Notes:         0.02,
		Device:        0.005,
	}
}

// RandomSource simulates a vision pipeline for demos and load testing. It
// stands in for real models behind the SignalSource interface.
type RandomSource struct {
	mu  sync.Mutex
	rng *rand.Rand
	p   Probabilities
	now func() time.Time
}

func NewRandomSource(seed int64, p Probabilities) *RandomSource {
	if p == (Probabilities{}) {
		p = DefaultProbabilities()
	}
	return &RandomSource{
		rng: rand.New(rand.NewSource(seed)), //nolint:gosec // simulation only
		p:   p,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *RandomSource) Next(ctx context.Context) (Signal, error) {
	if err := ctx.Err(); err != nil {
		return Signal{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sig := Signal{At: s.now()}
	sig.FacePresent = s.rng.Float64() < s.p.FacePresent
	if sig.FacePresent {
		sig.FaceCount = 1
		if s.rng.Float64() < s.p.MultipleFaces {
			sig.FaceCount = 2
		}
		sig.GazeOnScreen = s.rng.Float64() < s.p.GazeOnScreen
	}
	sig.FaceConfidence = 0.7 + 0.3*s.rng.Float64()
	sig.GazeConfidence = 0.5 + 0.5*s.rng.Float64()

	objects := map[detection.ObjectClass]float64{}
	if s.rng.Float64() < s.p.Phone {
		objects[detection.ObjectPhone] = 0.6 + 0.4*s.rng.Float64()
	}
	if s.rng.Float64() < s.p.Notes {
		objects[detection.ObjectNotes] = 0.6 + 0.4*s.rng.Float64()
	}
	if s.rng.Float64() < s.p.Device {
		objects[detection.ObjectDevice] = 0.6 + 0.4*s.rng.Float64()
	}
	if len(objects) > 0 {
		sig.Objects = objects
	}
	return sig, nil
}
