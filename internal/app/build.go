package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/proctorwatch/internal/audit"
	"github.com/ent0n29/proctorwatch/internal/config"
	"github.com/ent0n29/proctorwatch/internal/fanout"
	"github.com/ent0n29/proctorwatch/internal/httpapi"
	"github.com/ent0n29/proctorwatch/internal/ingest"
	"github.com/ent0n29/proctorwatch/internal/observability"
	"github.com/ent0n29/proctorwatch/internal/session"
	"github.com/ent0n29/proctorwatch/internal/store"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Ingest   *ingest.Service
	Bus      *fanout.Bus
	Metrics  *observability.Metrics
	Backend  string

	// Cleanup should be called on shutdown to flush the audit mirror and
	// release the store.
	Cleanup func() error
}

// Options lets tests swap process-global pieces.
type Options struct {
	Metrics *observability.Metrics
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	return BuildWith(ctx, cfg, logger, Options{})
}

func BuildWith(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
	}

	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}
	backend := store.Backend(cfg.DatabaseURL)

	auditWriter := audit.NewWriter(ctx, cfg.ClickHouseDSN, metrics, logger.Named("audit"))

	bus := fanout.NewBus(fanout.Config{
		QueueSize:        cfg.FanoutQueueSize,
		SubscriberBuffer: cfg.FanoutSubscriberBuffer,
	}, metrics, logger.Named("fanout"))
	notifier := fanout.NewNotifier(bus)

	sessions := session.NewManager(st, cfg.SessionIdleTimeout, logger.Named("session"))
	// Seed the gauge once; transitions then move it by one without a scan.
	if n, err := sessions.ActiveCount(ctx); err == nil {
		metrics.SetActiveSessions(n)
	} else {
		logger.Warn("active session count unavailable", zap.Error(err))
	}
	sessions.SetTransitionHook(func(s session.Session) {
		metrics.SessionEvent(transitionEvent(s))
		metrics.AdjustActiveSessions(activeDelta(s))
		notifier.SessionChanged(s)
	})

	ingestSvc := ingest.NewService(sessions, st, metrics, logger.Named("ingest"),
		notifier,
		audit.NewMirror(auditWriter),
	)

	api := httpapi.New(cfg, sessions, ingestSvc, bus, metrics, logger.Named("http"),
		httpapi.WithReadiness(st),
	)

	cleanup := func() error {
		var errs []string
		auditWriter.Close()
		if err := st.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Ingest:   ingestSvc,
		Bus:      bus,
		Metrics:  metrics,
		Backend:  backend,
		Cleanup:  cleanup,
	}, nil
}

// Start launches the background loops: fan-out dispatch and the idle
// janitor. Both stop with ctx.
func (b *BuildResult) Start(ctx context.Context) {
	go b.Bus.Run(ctx)
	b.Sessions.StartJanitor(ctx, b.Config.JanitorInterval)
}

// activeDelta is +1 when a session starts and -1 when it reaches a
// terminal status. Only those transitions reach the hook.
func activeDelta(s session.Session) int {
	if s.Status == session.StatusActive {
		return 1
	}
	return -1
}

func transitionEvent(s session.Session) string {
	switch s.Status {
	case session.StatusActive:
		return "started"
	case session.StatusCompleted:
		return "completed"
	case session.StatusCancelled:
		if s.EndReason == session.EndReasonIdle {
			return "expired"
		}
		return "cancelled"
	}
	return string(s.Status)
}
