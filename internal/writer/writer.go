// Package writer implements the deduplicating event writer of
// spec.md §4.5: it gates on artist validity, hashes the payload,
// compares against the connection's most recent event, and either
// inserts a new event or records the duplicate — always refreshing
// the connection's polling state via the adaptive scheduler.
package writer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nowplaying-fm/ingest-engine/internal/mapping"
	"github.com/nowplaying-fm/ingest-engine/internal/model"
	"github.com/nowplaying-fm/ingest-engine/internal/scheduler"
	"github.com/nowplaying-fm/ingest-engine/internal/store"
)

// Input is a transport-agnostic fetch outcome: the HTTP fetch
// pipeline and the WebSocket listener both funnel their results
// through the same writer (spec.md §9 on the artist-gate applying
// uniformly to both paths).
type Input struct {
	StatusCode  int
	ContentType string
	RawPayload  string
	Fields      mapping.Fields
}

// Writer applies Input against a connection's stored state.
type Writer struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a Writer backed by st.
func New(st store.Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{store: st, logger: logger}
}

// Write implements spec.md §4.5 end to end. observedAt is the instant
// the fetch or WS frame was received.
func (w *Writer) Write(ctx context.Context, conn *model.Connection, in Input, observedAt time.Time) error {
	artist := strings.TrimSpace(model.StrVal(in.Fields.Artist))
	if artist == "" {
		return w.rejectMissingArtist(ctx, conn, observedAt)
	}

	payloadHash := hashPayload(conn.StationID, conn.ID, in.RawPayload)

	last, err := w.store.LatestEventForConnection(ctx, conn.ID)
	if err != nil {
		return fmt.Errorf("writer: latest event for %s: %w", conn.ID, err)
	}

	title := strings.TrimSpace(model.StrVal(in.Fields.Title))
	isDuplicate := false
	if last != nil {
		payloadDuplicate := last.PayloadHash == payloadHash
		contentDuplicate := strings.TrimSpace(model.StrVal(last.ReportedArtist)) == artist &&
			strings.TrimSpace(model.StrVal(last.ReportedTitle)) == title
		isDuplicate = payloadDuplicate || contentDuplicate
	}

	if !isDuplicate {
		event := &model.RawNowPlayingEvent{
			StationID:      conn.StationID,
			ConnectionID:   conn.ID,
			ObservedAt:     observedAt,
			ReportedAt:     in.Fields.ReportedAt,
			ReportedArtist: model.StrPtr(artist),
			ReportedTitle:  model.StrPtr(title),
			ReportedAlbum:  model.StrPtr(strings.TrimSpace(model.StrVal(in.Fields.Album))),
			RawPayload:     in.RawPayload,
			PayloadHash:    payloadHash,
			HTTPStatus:     &in.StatusCode,
			ContentType:    model.StrPtr(in.ContentType),
		}
		if err := w.store.InsertEvent(ctx, event); err != nil {
			return fmt.Errorf("writer: insert event for %s: %w", conn.ID, err)
		}
	}

	var outcome scheduler.Outcome
	if isDuplicate {
		outcome = scheduler.OnDuplicate(conn.ID, observedAt, conn.SameSongBackoffSeconds)
	} else {
		outcome = scheduler.OnFreshEvent(conn.ID, observedAt, conn.UseDurationPolling, in.Fields.ReportedAt, in.Fields.Duration, conn.PollInterval)
	}

	okStatus := model.StatusOK
	emptyErr := ""
	return w.store.UpdateConnectionPollingState(ctx, conn.ID, store.PollingStateUpdate{
		LastPolledAt:           &observedAt,
		NextPollAt:             &outcome.NextPollAt,
		LastStatus:             &okStatus,
		LastError:              &emptyErr,
		ErrorBackoffSeconds:    &outcome.ErrorBackoffSeconds,
		SameSongBackoffSeconds: &outcome.SameSongBackoffSeconds,
	})
}

// WriteFetchFailure applies the error-backoff path for a transport
// fetch failure (spec.md §7): no event is inserted.
func (w *Writer) WriteFetchFailure(ctx context.Context, conn *model.Connection, observedAt time.Time, cause error) error {
	w.logger.Warn("fetch failed", "connection_id", conn.ID, "error", cause)
	return w.applyFailure(ctx, conn, observedAt, model.StatusFetchError, cause.Error())
}

func (w *Writer) rejectMissingArtist(ctx context.Context, conn *model.Connection, observedAt time.Time) error {
	w.logger.Warn("rejecting event: missing artist", "connection_id", conn.ID)
	return w.applyFailure(ctx, conn, observedAt, model.StatusInvalidEvent, "Missing artist")
}

func (w *Writer) applyFailure(ctx context.Context, conn *model.Connection, observedAt time.Time, status, errMsg string) error {
	outcome := scheduler.OnFailure(conn.ID, observedAt, conn.ErrorBackoffSeconds)
	return w.store.UpdateConnectionPollingState(ctx, conn.ID, store.PollingStateUpdate{
		LastPolledAt:           &observedAt,
		NextPollAt:             &outcome.NextPollAt,
		LastStatus:             &status,
		LastError:              &errMsg,
		ErrorBackoffSeconds:    &outcome.ErrorBackoffSeconds,
		SameSongBackoffSeconds: &outcome.SameSongBackoffSeconds,
	})
}

// hashPayload implements payload_hash = hex(SHA-256(station_id_bytes
// ++ connection_id_bytes ++ raw_payload)), over the raw 16-byte UUID
// representations, not their string form.
func hashPayload(stationID, connectionID uuid.UUID, rawPayload string) string {
	h := sha256.New()
	h.Write(stationID[:])
	h.Write(connectionID[:])
	h.Write([]byte(rawPayload))
	return hex.EncodeToString(h.Sum(nil))
}
