package debounce

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"
)

// SignalSource produces one Signal per monitoring tick. Returning io.EOF
// ends the monitor loop cleanly.
type SignalSource interface {
	Next(ctx context.Context) (Signal, error)
}

// Sink receives emitted violations. Sink errors are logged and the loop
// continues; a monitor never stops because the backend is unreachable.
type Sink interface {
	Emit(ctx context.Context, v Violation) error
}

// Monitor runs the debounce fold for one session at a fixed cadence. It is
// single-threaded by construction and owns its State.
type Monitor struct {
	cfg    Config
	source SignalSource
	sink   Sink
	logger *zap.Logger
	now    func() time.Time

	state   State
	emitted int
}

func NewMonitor(cfg Config, source SignalSource, sink Sink, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:    cfg.normalized(),
		source: source,
		sink:   sink,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run ticks until ctx is cancelled or the source is exhausted.
func (m *Monitor) Run(ctx context.Context, startedAt time.Time) error {
	m.state = NewState(startedAt)
	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			done, err := m.step(ctx)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (m *Monitor) step(ctx context.Context) (bool, error) {
	sig, err := m.source.Next(ctx)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		// A failed inference tick is treated as no reading at all; the
		// continuity timers simply are not refreshed.
		m.logger.Debug("signal source tick failed", zap.Error(err))
		return false, nil
	}
	if sig.At.IsZero() {
		sig.At = m.now()
	}

	var violations []Violation
	m.state, violations = Evaluate(m.cfg, m.state, sig)
	for _, v := range violations {
		m.emitted++
		if err := m.sink.Emit(ctx, v); err != nil {
			m.logger.Warn("violation emit failed",
				zap.String("kind", string(v.Kind)),
				zap.Int64("offset_seconds", v.OffsetSec),
				zap.Error(err),
			)
		}
	}
	return false, nil
}

// Emitted returns how many violations the monitor produced so far.
func (m *Monitor) Emitted() int {
	return m.emitted
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, v Violation) error

func (f SinkFunc) Emit(ctx context.Context, v Violation) error { return f(ctx, v) }
