package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/ent0n29/proctorwatch/internal/observability"
	"github.com/ent0n29/proctorwatch/internal/reliability"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 250 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
	sendTimeout   = 5 * time.Second
)

var sendRetry = reliability.Policy{Attempts: 3, Base: 50 * time.Millisecond, Cap: 500 * time.Millisecond}

const createTableSQL = `CREATE TABLE IF NOT EXISTS detection_events_audit (
	event_id String,
	session_id String,
	seq Int64,
	kind LowCardinality(String),
	canonical_kind LowCardinality(String),
	severity LowCardinality(String),
	message String,
	offset_seconds Int64,
	confidence Nullable(Float64),
	metadata String,
	received_at DateTime64(3, 'UTC'),
	observer_id String,
	candidate_email String,
	score_after Int32,
	focus_lost_after Int32,
	suspicious_after Int32,
	total_events_after Int32
) ENGINE = MergeTree
ORDER BY (session_id, seq)`

const insertSQL = `INSERT INTO detection_events_audit (
	event_id, session_id, seq, kind, canonical_kind, severity, message,
	offset_seconds, confidence, metadata, received_at,
	observer_id, candidate_email, score_after, focus_lost_after, suspicious_after, total_events_after
)`

type insertFunc func(ctx context.Context, recs []*Record) error

// ClickHouseWriter batches records into ClickHouse from a background loop.
// Write is non-blocking and drops records when the buffer is full.
type ClickHouseWriter struct {
	conn    driver.Conn
	insert  insertFunc
	buffer  chan *Record
	done    chan struct{}
	flushed chan struct{}
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewClickHouseWriter(ctx context.Context, dsn string, metrics *observability.Metrics, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, createTableSQL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("init audit table: %w", err)
	}

	w := newWriter(nil, metrics, logger)
	w.conn = conn
	w.insert = w.sendBatch
	go w.flushLoop()
	return w, nil
}

func newWriter(insert insertFunc, metrics *observability.Metrics, logger *zap.Logger) *ClickHouseWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClickHouseWriter{
		insert:  insert,
		buffer:  make(chan *Record, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
		metrics: metrics,
	}
}

func (w *ClickHouseWriter) Write(rec *Record) {
	select {
	case w.buffer <- rec:
	default:
		w.metrics.AuditWrite("clickhouse", "dropped", 1)
		w.logger.Warn("clickhouse buffer full, dropping audit record",
			zap.String("session_id", rec.SessionID),
			zap.String("event_id", rec.EventID),
		)
	}
}

// Close drains buffered records (bounded by drainTimeout) and closes the
// connection. Safe to call once.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
	if w.conn != nil {
		_ = w.conn.Close()
	}
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*Record, 0, flushBatch)
	for {
		select {
		case rec := <-w.buffer:
			batch = append(batch, rec)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			deadline := time.After(drainTimeout)
		drain:
			for {
				select {
				case rec := <-w.buffer:
					batch = append(batch, rec)
				case <-deadline:
					break drain
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(recs []*Record) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	started := time.Now()
	if err := reliability.Retry(ctx, sendRetry, func(ctx context.Context) error {
		return w.insert(ctx, recs)
	}); err != nil {
		w.metrics.AuditWrite("clickhouse", "failed", len(recs))
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(recs)),
			zap.Error(err),
		)
		return
	}
	w.metrics.AuditWrite("clickhouse", "ok", len(recs))
	w.metrics.ObserveStage(observability.StageAuditFlush, time.Since(started))
}

func (w *ClickHouseWriter) sendBatch(ctx context.Context, recs []*Record) error {
	batch, err := w.conn.PrepareBatch(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, r := range recs {
		if err := batch.Append(
			r.EventID,
			r.SessionID,
			r.Seq,
			r.Kind,
			r.CanonicalKind,
			r.Severity,
			r.Message,
			r.OffsetSeconds,
			r.Confidence,
			r.Metadata,
			r.ReceivedAt,
			r.ObserverID,
			r.CandidateEmail,
			r.ScoreAfter,
			r.FocusLostAfter,
			r.SuspiciousAfter,
			r.TotalEventsAfter,
		); err != nil {
			w.logger.Error("clickhouse append record failed",
				zap.String("event_id", r.EventID),
				zap.Error(err),
			)
		}
	}
	return batch.Send()
}
