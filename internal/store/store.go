// Package store selects the persistence backend.
package store

import (
	"context"
	"strings"

	"github.com/ent0n29/proctorwatch/internal/ingest"
	"github.com/ent0n29/proctorwatch/internal/session"
	"github.com/ent0n29/proctorwatch/internal/store/memstore"
	"github.com/ent0n29/proctorwatch/internal/store/pgstore"
)

type Store interface {
	session.Store
	ingest.Store
	DeleteSession(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*memstore.Store)(nil)
	_ Store = (*pgstore.Store)(nil)
)

// New creates a postgres-backed store when configured, otherwise in-memory.
func New(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return memstore.New(), nil
	}
	return pgstore.New(ctx, databaseURL)
}

// Backend names the store kind for logs.
func Backend(databaseURL string) string {
	if strings.TrimSpace(databaseURL) == "" {
		return "memory"
	}
	return "postgres"
}
