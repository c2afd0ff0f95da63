// Package store defines the persistence contract the ingestion engine
// needs (spec.md §6.4): reading enabled connections and mappings, and
// recording the outcome of each poll. The engine never manages
// stations, connections, or mappings themselves — that CRUD surface
// belongs to a separate administrative service (spec.md §6.2).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nowplaying-fm/ingest-engine/internal/model"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// PollingStateUpdate is the subset of Connection fields the engine is
// allowed to mutate after a poll or WS transition. Nil fields are left
// unchanged.
type PollingStateUpdate struct {
	LastPolledAt           *time.Time
	NextPollAt             *time.Time
	LastStatus             *string
	LastError              *string
	ErrorBackoffSeconds    *int
	SameSongBackoffSeconds *int
}

// Store is the persistence contract of spec.md §6.4.
type Store interface {
	ListEnabledConnections(ctx context.Context) ([]model.Connection, error)
	GetConnection(ctx context.Context, id uuid.UUID) (*model.Connection, error)
	GetMapping(ctx context.Context, id uuid.UUID) (*model.PayloadMapping, error)
	LatestEventForConnection(ctx context.Context, connectionID uuid.UUID) (*model.RawNowPlayingEvent, error)
	InsertEvent(ctx context.Context, event *model.RawNowPlayingEvent) error
	UpdateConnectionPollingState(ctx context.Context, id uuid.UUID, update PollingStateUpdate) error
}
