package session

import "context"

// Store persists session records. Implementations return ErrNotFound for
// unknown ids and ErrConflict when UpdateSession finds a status other than
// expect.
type Store interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	// ListSessions returns matching sessions newest first.
	ListSessions(ctx context.Context, filter ListFilter) ([]Session, error)
	UpdateSession(ctx context.Context, s Session, expect Status) error
}
