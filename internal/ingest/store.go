package ingest

import (
	"context"

	"github.com/ent0n29/proctorwatch/internal/detection"
	"github.com/ent0n29/proctorwatch/internal/session"
)

// Store is the append-only event log. AppendEvent writes the event and the
// session's new tally together; it returns the event with its arrival
// sequence assigned, or session.ErrConflict if the session stopped being
// active underneath the caller.
type Store interface {
	AppendEvent(ctx context.Context, ev detection.Event, updated session.Session) (detection.Event, error)
	// ListEvents returns events in arrival order.
	ListEvents(ctx context.Context, sessionID string) ([]detection.Event, error)
}
