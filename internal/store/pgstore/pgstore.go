// Package pgstore persists sessions and detection events in PostgreSQL.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/proctorwatch/internal/detection"
	"github.com/ent0n29/proctorwatch/internal/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS interview_sessions (
			id TEXT PRIMARY KEY,
			candidate_name TEXT NOT NULL,
			candidate_email TEXT NOT NULL,
			observer_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NULL,
			duration_seconds BIGINT NOT NULL DEFAULT 0,
			integrity_score INTEGER NOT NULL DEFAULT 100 CHECK (integrity_score BETWEEN 0 AND 100),
			focus_lost_count INTEGER NOT NULL DEFAULT 0,
			suspicious_events INTEGER NOT NULL DEFAULT 0,
			total_events INTEGER NOT NULL DEFAULT 0,
			reported JSONB NULL,
			end_reason TEXT NOT NULL DEFAULT '',
			last_activity_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_interview_sessions_observer ON interview_sessions (observer_id, started_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_interview_sessions_email ON interview_sessions (lower(candidate_email), started_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_interview_sessions_status ON interview_sessions (status, last_activity_at);`,
		`CREATE TABLE IF NOT EXISTS detection_events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES interview_sessions(id) ON DELETE CASCADE,
			seq BIGINT NOT NULL,
			kind TEXT NOT NULL,
			message TEXT NOT NULL,
			severity TEXT NOT NULL,
			offset_seconds BIGINT NOT NULL CHECK (offset_seconds >= 0),
			confidence DOUBLE PRECISION NULL CHECK (confidence IS NULL OR (confidence >= 0 AND confidence <= 1)),
			metadata JSONB NULL,
			received_at TIMESTAMPTZ NOT NULL,
			UNIQUE (session_id, seq)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init proctoring schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const sessionColumns = `id, candidate_name, candidate_email, observer_id, status, started_at, ended_at,
	duration_seconds, integrity_score, focus_lost_count, suspicious_events, total_events,
	reported, end_reason, last_activity_at`

func (s *Store) CreateSession(ctx context.Context, sess session.Session) error {
	reported, err := encodeReported(sess.Reported)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO interview_sessions (`+sessionColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		sess.ID,
		sess.Candidate.Name,
		sess.Candidate.Email,
		sess.ObserverID,
		string(sess.Status),
		sess.StartedAt,
		sess.EndedAt,
		sess.DurationSeconds,
		sess.IntegrityScore,
		sess.FocusLostCount,
		sess.SuspiciousEvents,
		sess.TotalEvents,
		reported,
		sess.EndReason,
		sess.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM interview_sessions WHERE id=$1`, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Session{}, fmt.Errorf("%w: %s", session.ErrNotFound, id)
		}
		return session.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context, filter session.ListFilter) ([]session.Session, error) {
	var (
		where []string
		args  []any
	)
	if filter.ObserverID != "" {
		args = append(args, filter.ObserverID)
		where = append(where, fmt.Sprintf("observer_id=$%d", len(args)))
	}
	if filter.CandidateEmail != "" {
		args = append(args, strings.ToLower(filter.CandidateEmail))
		where = append(where, fmt.Sprintf("lower(candidate_email)=$%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	query := `SELECT ` + sessionColumns + ` FROM interview_sessions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]session.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess session.Session, expect session.Status) error {
	reported, err := encodeReported(sess.Reported)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE interview_sessions SET
			status=$2, ended_at=$3, duration_seconds=$4, integrity_score=$5, focus_lost_count=$6,
			suspicious_events=$7, total_events=$8, reported=$9, end_reason=$10, last_activity_at=$11
		 WHERE id=$1 AND status=$12`,
		sess.ID,
		string(sess.Status),
		sess.EndedAt,
		sess.DurationSeconds,
		sess.IntegrityScore,
		sess.FocusLostCount,
		sess.SuspiciousEvents,
		sess.TotalEvents,
		reported,
		sess.EndReason,
		sess.LastActivityAt,
		string(expect),
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, s.pool, sess.ID, expect)
	}
	return nil
}

// AppendEvent runs the tally update and the insert in one transaction. The
// session row update comes first so its row lock orders concurrent appends
// for the same session across processes.
func (s *Store) AppendEvent(ctx context.Context, ev detection.Event, updated session.Session) (detection.Event, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return detection.Event{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE interview_sessions SET
			integrity_score=$2, focus_lost_count=$3, suspicious_events=$4, total_events=$5, last_activity_at=$6
		 WHERE id=$1 AND status='active'`,
		ev.SessionID,
		updated.IntegrityScore,
		updated.FocusLostCount,
		updated.SuspiciousEvents,
		updated.TotalEvents,
		updated.LastActivityAt,
	)
	if err != nil {
		return detection.Event{}, fmt.Errorf("update session tally: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return detection.Event{}, s.missOrConflict(ctx, tx, ev.SessionID, session.StatusActive)
	}

	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM detection_events WHERE session_id=$1`,
		ev.SessionID,
	).Scan(&ev.Seq); err != nil {
		return detection.Event{}, fmt.Errorf("next event seq: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO detection_events (
			id, session_id, seq, kind, message, severity, offset_seconds, confidence, metadata, received_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		ev.ID,
		ev.SessionID,
		ev.Seq,
		string(ev.Kind),
		ev.Message,
		string(ev.Severity),
		ev.OffsetSec,
		ev.Confidence,
		nullableJSON(ev.Metadata),
		ev.ReceivedAt,
	)
	if err != nil {
		return detection.Event{}, fmt.Errorf("insert detection event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return detection.Event{}, fmt.Errorf("commit tx: %w", err)
	}
	return ev, nil
}

func (s *Store) ListEvents(ctx context.Context, sessionID string) ([]detection.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, seq, kind, message, severity, offset_seconds, confidence, metadata, received_at
		   FROM detection_events WHERE session_id=$1 ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := make([]detection.Event, 0)
	for rows.Next() {
		var (
			ev       detection.Event
			kind     string
			severity string
			meta     []byte
		)
		if err := rows.Scan(
			&ev.ID, &ev.SessionID, &ev.Seq, &kind, &ev.Message, &severity,
			&ev.OffsetSec, &ev.Confidence, &meta, &ev.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = detection.Kind(kind)
		ev.Severity = detection.Severity(severity)
		if len(meta) > 0 {
			ev.Metadata = json.RawMessage(meta)
		}
		ev.ReceivedAt = ev.ReceivedAt.UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// DeleteSession removes a session; its events go with it through the
// foreign key cascade.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM interview_sessions WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) missOrConflict(ctx context.Context, q querier, id string, expect session.Status) error {
	var status string
	err := q.QueryRow(ctx, `SELECT status FROM interview_sessions WHERE id=$1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("load session status: %w", err)
	}
	return fmt.Errorf("%w: session %s is %s, expected %s", session.ErrConflict, id, status, expect)
}

func scanSession(row pgx.Row) (session.Session, error) {
	var (
		sess     session.Session
		status   string
		endedAt  *time.Time
		reported []byte
	)
	err := row.Scan(
		&sess.ID,
		&sess.Candidate.Name,
		&sess.Candidate.Email,
		&sess.ObserverID,
		&status,
		&sess.StartedAt,
		&endedAt,
		&sess.DurationSeconds,
		&sess.IntegrityScore,
		&sess.FocusLostCount,
		&sess.SuspiciousEvents,
		&sess.TotalEvents,
		&reported,
		&sess.EndReason,
		&sess.LastActivityAt,
	)
	if err != nil {
		return session.Session{}, err
	}
	sess.Status = session.Status(status)
	sess.StartedAt = sess.StartedAt.UTC()
	sess.LastActivityAt = sess.LastActivityAt.UTC()
	if endedAt != nil {
		t := endedAt.UTC()
		sess.EndedAt = &t
	}
	if len(reported) > 0 {
		var r session.Reported
		if err := json.Unmarshal(reported, &r); err != nil {
			return session.Session{}, fmt.Errorf("decode reported counters: %w", err)
		}
		sess.Reported = &r
	}
	return sess, nil
}

func encodeReported(r *session.Reported) (any, error) {
	if r == nil {
		return nil, nil
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode reported counters: %w", err)
	}
	return raw, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
