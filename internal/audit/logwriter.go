package audit

import (
	"context"
	"strings"

	"github.com/ent0n29/proctorwatch/internal/observability"
	"go.uber.org/zap"
)

// LogWriter emits records as structured log lines. It is the sink when no
// ClickHouse DSN is configured.
type LogWriter struct {
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewLogWriter(logger *zap.Logger, metrics *observability.Metrics) *LogWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogWriter{logger: logger, metrics: metrics}
}

func (w *LogWriter) Write(rec *Record) {
	fields := []zap.Field{
		zap.String("event_id", rec.EventID),
		zap.String("session_id", rec.SessionID),
		zap.Int64("seq", rec.Seq),
		zap.String("kind", rec.Kind),
		zap.String("severity", rec.Severity),
		zap.Int64("offset_seconds", rec.OffsetSeconds),
		zap.Int32("score_after", rec.ScoreAfter),
	}
	if rec.Confidence != nil {
		fields = append(fields, zap.Float64("confidence", *rec.Confidence))
	}
	w.logger.Info("detection_event", fields...)
	w.metrics.AuditWrite("log", "ok", 1)
}

func (w *LogWriter) Close() {}

// NewWriter picks ClickHouse when dsn is set and reachable, otherwise it
// falls back to structured logs.
func NewWriter(ctx context.Context, dsn string, metrics *observability.Metrics, logger *zap.Logger) EventWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(dsn) == "" {
		logger.Info("audit mirror using log writer (no CLICKHOUSE_DSN configured)")
		return NewLogWriter(logger, metrics)
	}
	w, err := NewClickHouseWriter(ctx, dsn, metrics, logger)
	if err != nil {
		logger.Warn("clickhouse unavailable, audit mirror falling back to log writer", zap.Error(err))
		return NewLogWriter(logger, metrics)
	}
	logger.Info("audit mirror using clickhouse")
	return w
}
