// Package sqlstore implements store.Store over SQLite, using the
// pure-Go modernc.org/sqlite driver (no cgo). The schema mirrors
// spec.md §3/§6.5: stations, now_playing_connections,
// raw_now_playing_events, payload_mappings, with the engine only ever
// reading stations/mappings and reading+writing connections/events.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nowplaying-fm/ingest-engine/internal/model"
	"github.com/nowplaying-fm/ingest-engine/internal/store"
)

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the database at dsn, a modernc.org/sqlite
// data source name such as "file:/var/lib/ingest/engine.db" or
// ":memory:".
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite serializes writes; avoid SQLITE_BUSY under concurrent pollers

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable, for use as a
// connwatch.ProbeFunc behind the diagnostics HTTP surface.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	PRAGMA foreign_keys = ON;

	CREATE TABLE IF NOT EXISTS stations (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		callsign    TEXT,
		website_url TEXT,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS payload_mappings (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		description  TEXT,
		mapping_json TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS now_playing_connections (
		id                        TEXT PRIMARY KEY,
		station_id                TEXT NOT NULL REFERENCES stations(id) ON DELETE CASCADE,
		payload_mapping_id        TEXT REFERENCES payload_mappings(id) ON DELETE SET NULL,
		name                      TEXT NOT NULL,
		connection_type           TEXT NOT NULL,
		url                       TEXT NOT NULL,
		poll_interval_seconds     INTEGER NOT NULL,
		headers_json              TEXT,
		enabled                   INTEGER NOT NULL DEFAULT 1,
		use_duration_polling      INTEGER NOT NULL DEFAULT 0,
		last_polled_at            TEXT,
		next_poll_at              TEXT,
		same_song_backoff_seconds INTEGER NOT NULL DEFAULT 0,
		error_backoff_seconds     INTEGER NOT NULL DEFAULT 0,
		last_status               TEXT,
		last_error                TEXT,
		created_at                TEXT NOT NULL,
		updated_at                TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS raw_now_playing_events (
		id              TEXT PRIMARY KEY,
		station_id      TEXT NOT NULL REFERENCES stations(id) ON DELETE CASCADE,
		connection_id   TEXT NOT NULL REFERENCES now_playing_connections(id) ON DELETE CASCADE,
		observed_at     TEXT NOT NULL,
		reported_at     TEXT,
		reported_artist TEXT,
		reported_title  TEXT,
		reported_album  TEXT,
		raw_payload     TEXT NOT NULL,
		payload_hash    TEXT NOT NULL,
		http_status     INTEGER,
		content_type    TEXT,
		created_at      TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_connection_observed
		ON raw_now_playing_events (connection_id, observed_at DESC);

	CREATE INDEX IF NOT EXISTS idx_connections_enabled
		ON now_playing_connections (enabled);
	`)
	return err
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func scanNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListEnabledConnections returns every connection with enabled=true.
func (s *Store) ListEnabledConnections(ctx context.Context) ([]model.Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, station_id, payload_mapping_id, name, connection_type, url,
		       poll_interval_seconds, headers_json, enabled, use_duration_polling,
		       last_polled_at, next_poll_at, same_song_backoff_seconds, error_backoff_seconds,
		       last_status, last_error, created_at, updated_at
		FROM now_playing_connections WHERE enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("list enabled connections: %w", err)
	}
	defer rows.Close()

	var out []model.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *conn)
	}
	return out, rows.Err()
}

// GetConnection fetches a single connection by id.
func (s *Store) GetConnection(ctx context.Context, id uuid.UUID) (*model.Connection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, station_id, payload_mapping_id, name, connection_type, url,
		       poll_interval_seconds, headers_json, enabled, use_duration_polling,
		       last_polled_at, next_poll_at, same_song_backoff_seconds, error_backoff_seconds,
		       last_status, last_error, created_at, updated_at
		FROM now_playing_connections WHERE id = ?`, id.String())
	conn, err := scanConnection(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get connection %s: %w", id, err)
	}
	return conn, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*model.Connection, error) {
	var (
		id, stationID                 string
		payloadMappingID              sql.NullString
		name, connType, url           string
		pollIntervalSeconds           int
		headersJSON                   sql.NullString
		enabled, useDurationPolling   bool
		lastPolledAt, nextPollAt      sql.NullString
		sameSongBackoff, errorBackoff int
		lastStatus, lastError         sql.NullString
		createdAt, updatedAt          string
	)
	if err := row.Scan(
		&id, &stationID, &payloadMappingID, &name, &connType, &url,
		&pollIntervalSeconds, &headersJSON, &enabled, &useDurationPolling,
		&lastPolledAt, &nextPollAt, &sameSongBackoff, &errorBackoff,
		&lastStatus, &lastError, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	c := &model.Connection{
		Name:                   name,
		ConnectionType:         model.Normalize(connType),
		URL:                    url,
		PollInterval:           time.Duration(pollIntervalSeconds) * time.Second,
		Enabled:                enabled,
		UseDurationPolling:     useDurationPolling,
		SameSongBackoffSeconds: sameSongBackoff,
		ErrorBackoffSeconds:    errorBackoff,
		LastStatus:             lastStatus.String,
		LastError:              lastError.String,
	}

	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse connection id: %w", err)
	}
	c.ID = parsedID

	parsedStationID, err := uuid.Parse(stationID)
	if err != nil {
		return nil, fmt.Errorf("parse station id: %w", err)
	}
	c.StationID = parsedStationID

	if payloadMappingID.Valid {
		mID, err := uuid.Parse(payloadMappingID.String)
		if err != nil {
			return nil, fmt.Errorf("parse payload_mapping_id: %w", err)
		}
		c.PayloadMappingID = &mID
	}

	if headersJSON.Valid && headersJSON.String != "" {
		var h map[string]string
		if err := json.Unmarshal([]byte(headersJSON.String), &h); err != nil {
			return nil, fmt.Errorf("decode headers_json: %w", err)
		}
		c.HeadersJSON = h
	}

	lp, err := scanNullableTime(lastPolledAt)
	if err != nil {
		return nil, fmt.Errorf("parse last_polled_at: %w", err)
	}
	c.LastPolledAt = lp

	np, err := scanNullableTime(nextPollAt)
	if err != nil {
		return nil, fmt.Errorf("parse next_poll_at: %w", err)
	}
	c.NextPollAt = np

	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return c, nil
}

// GetMapping fetches a payload mapping by id.
func (s *Store) GetMapping(ctx context.Context, id uuid.UUID) (*model.PayloadMapping, error) {
	var (
		idStr, name, mappingJSON string
		description              sql.NullString
		createdAt, updatedAt     string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, mapping_json, created_at, updated_at
		FROM payload_mappings WHERE id = ?`, id.String(),
	).Scan(&idStr, &name, &description, &mappingJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping %s: %w", id, err)
	}

	m := &model.PayloadMapping{
		ID:          id,
		Name:        name,
		Description: description.String,
	}
	if err := json.Unmarshal([]byte(mappingJSON), &m.Mapping); err != nil {
		return nil, fmt.Errorf("decode mapping_json: %w", err)
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return m, nil
}

// LatestEventForConnection returns the most recent event by
// observed_at for a connection, or (nil, nil) if it has none.
func (s *Store) LatestEventForConnection(ctx context.Context, connectionID uuid.UUID) (*model.RawNowPlayingEvent, error) {
	var (
		id, stationID, connID                       string
		observedAt                                   string
		reportedAt                                   sql.NullString
		reportedArtist, reportedTitle, reportedAlbum sql.NullString
		rawPayload, payloadHash                      string
		httpStatus                                   sql.NullInt64
		contentType                                  sql.NullString
		createdAt                                    string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, station_id, connection_id, observed_at, reported_at,
		       reported_artist, reported_title, reported_album,
		       raw_payload, payload_hash, http_status, content_type, created_at
		FROM raw_now_playing_events
		WHERE connection_id = ?
		ORDER BY observed_at DESC
		LIMIT 1`, connectionID.String(),
	).Scan(&id, &stationID, &connID, &observedAt, &reportedAt,
		&reportedArtist, &reportedTitle, &reportedAlbum,
		&rawPayload, &payloadHash, &httpStatus, &contentType, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest event for connection %s: %w", connectionID, err)
	}

	e := &model.RawNowPlayingEvent{
		ReportedArtist: nullableString(reportedArtist),
		ReportedTitle:  nullableString(reportedTitle),
		ReportedAlbum:  nullableString(reportedAlbum),
		RawPayload:     rawPayload,
		PayloadHash:    payloadHash,
		ContentType:    nullableString(contentType),
	}
	if e.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse event id: %w", err)
	}
	if e.StationID, err = uuid.Parse(stationID); err != nil {
		return nil, fmt.Errorf("parse station id: %w", err)
	}
	if e.ConnectionID, err = uuid.Parse(connID); err != nil {
		return nil, fmt.Errorf("parse connection id: %w", err)
	}
	if e.ObservedAt, err = parseTime(observedAt); err != nil {
		return nil, fmt.Errorf("parse observed_at: %w", err)
	}
	if rt, err := scanNullableTime(reportedAt); err != nil {
		return nil, fmt.Errorf("parse reported_at: %w", err)
	} else {
		e.ReportedAt = rt
	}
	if httpStatus.Valid {
		v := int(httpStatus.Int64)
		e.HTTPStatus = &v
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return e, nil
}

func nullableString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

// InsertEvent appends a new raw now-playing event.
func (s *Store) InsertEvent(ctx context.Context, e *model.RawNowPlayingEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var httpStatus any
	if e.HTTPStatus != nil {
		httpStatus = *e.HTTPStatus
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_now_playing_events
			(id, station_id, connection_id, observed_at, reported_at,
			 reported_artist, reported_title, reported_album,
			 raw_payload, payload_hash, http_status, content_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.StationID.String(), e.ConnectionID.String(),
		formatTime(e.ObservedAt), nullableTime(e.ReportedAt),
		model.StrVal(e.ReportedArtist), model.StrVal(e.ReportedTitle), model.StrVal(e.ReportedAlbum),
		e.RawPayload, e.PayloadHash, httpStatus, model.StrVal(e.ContentType), formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// UpdateConnectionPollingState applies the engine-owned subset of a
// connection's fields (spec.md §6.4). Nil fields in update are left
// unchanged; a non-nil LastError pointing at "" explicitly clears the
// column (a successful poll after a prior failure).
func (s *Store) UpdateConnectionPollingState(ctx context.Context, id uuid.UUID, update store.PollingStateUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(time.Now().UTC())}

	if update.LastPolledAt != nil {
		sets = append(sets, "last_polled_at = ?")
		args = append(args, nullableTime(update.LastPolledAt))
	}
	if update.NextPollAt != nil {
		sets = append(sets, "next_poll_at = ?")
		args = append(args, nullableTime(update.NextPollAt))
	}
	if update.LastStatus != nil {
		sets = append(sets, "last_status = ?")
		args = append(args, *update.LastStatus)
	}
	if update.LastError != nil {
		sets = append(sets, "last_error = ?")
		if *update.LastError == "" {
			args = append(args, nil)
		} else {
			args = append(args, *update.LastError)
		}
	}
	if update.ErrorBackoffSeconds != nil {
		sets = append(sets, "error_backoff_seconds = ?")
		args = append(args, *update.ErrorBackoffSeconds)
	}
	if update.SameSongBackoffSeconds != nil {
		sets = append(sets, "same_song_backoff_seconds = ?")
		args = append(args, *update.SameSongBackoffSeconds)
	}

	args = append(args, id.String())
	query := "UPDATE now_playing_connections SET " + strings.Join(sets, ", ") + " WHERE id = ?"

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update connection polling state %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
