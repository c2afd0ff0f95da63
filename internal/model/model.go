// Package model defines the core entities the ingestion engine reads
// and writes: stations, connections, payload mappings, and the raw
// now-playing events they produce.
package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConnectionType identifies the transport+codec a Connection speaks.
type ConnectionType string

const (
	ConnectionHTTPJSON ConnectionType = "http_json"
	ConnectionHTTPXML  ConnectionType = "http_xml"
	ConnectionHTTPText ConnectionType = "http_text"
	ConnectionRSS      ConnectionType = "rss"
	ConnectionWSJSON   ConnectionType = "ws_json"
)

// Normalize lower-cases a connection type for case-insensitive comparison.
func Normalize(t string) ConnectionType {
	return ConnectionType(strings.ToLower(strings.TrimSpace(t)))
}

// Valid reports whether t is one of the recognized connection types.
func (t ConnectionType) Valid() bool {
	switch Normalize(string(t)) {
	case ConnectionHTTPJSON, ConnectionHTTPXML, ConnectionHTTPText, ConnectionRSS, ConnectionWSJSON:
		return true
	default:
		return false
	}
}

// IsWS reports whether t is the WebSocket transport.
func (t ConnectionType) IsWS() bool {
	return Normalize(string(t)) == ConnectionWSJSON
}

// IsXML reports whether t decodes its payload as XML (http_xml or rss).
func (t ConnectionType) IsXML() bool {
	switch Normalize(string(t)) {
	case ConnectionHTTPXML, ConnectionRSS:
		return true
	default:
		return false
	}
}

// IsText reports whether t is the plain-text transport.
func (t ConnectionType) IsText() bool {
	return Normalize(string(t)) == ConnectionHTTPText
}

// Status tags recorded on a Connection after a poll or WS transition.
const (
	StatusOK             = "OK"
	StatusFetchError     = "FETCH_ERROR"
	StatusInvalidEvent   = "INVALID_EVENT"
	StatusDisabled       = "DISABLED"
	StatusWSConnected    = "WS_CONNECTED"
	StatusWSConnectError = "WS_CONNECT_ERROR"
	StatusWSClosed       = "WS_CLOSED"
	StatusWSError        = "WS_ERROR"
	StatusWSDisconnected = "WS_DISCONNECTED"
)

// Station is the identity of a broadcast source. Owned by the admin
// surface; the engine only reads it.
type Station struct {
	ID         uuid.UUID
	Name       string
	Callsign   *string
	WebsiteURL *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Connection is one observable now-playing source attached to a Station.
// The admin surface owns every field except the ones the engine itself
// updates (LastPolledAt, NextPollAt, LastStatus, LastError, the two
// backoff counters).
type Connection struct {
	ID               uuid.UUID
	StationID        uuid.UUID
	PayloadMappingID *uuid.UUID

	Name           string
	ConnectionType ConnectionType
	URL            string
	PollInterval   time.Duration // poll_interval_seconds, stored as a duration

	HeadersJSON map[string]string // also carries WS subscribe hints

	Enabled            bool
	UseDurationPolling bool

	LastPolledAt *time.Time
	NextPollAt   *time.Time

	SameSongBackoffSeconds int
	ErrorBackoffSeconds    int

	LastStatus string
	LastError  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PayloadMapping is a declarative field extractor shared by zero or
// more Connections.
type PayloadMapping struct {
	ID          uuid.UUID
	Name        string
	Description string
	Mapping     MappingSpec
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MappingSpec is the recognized shape of a PayloadMapping's mapping_json
// blob (spec.md §3). Unrecognized keys are ignored on decode; the
// on-disk representation is always a plain JSON object with these
// string keys, for interchange with externally seeded data.
type MappingSpec struct {
	ListPath       string `json:"list_path,omitempty"`
	ArtistPath     string `json:"artist_path,omitempty"`
	TitlePath      string `json:"title_path,omitempty"`
	AlbumPath      string `json:"album_path,omitempty"`
	ReportedAtPath string `json:"reported_at_path,omitempty"`
	DurationPath   string `json:"duration_path,omitempty"`
}

// MarshalJSON and UnmarshalJSON round-trip MappingSpec as a plain JSON
// object, matching the on-disk shape seed data and the admin surface
// expect.
func (m MappingSpec) MarshalJSON() ([]byte, error) {
	type alias MappingSpec
	return json.Marshal(alias(m))
}

func (m *MappingSpec) UnmarshalJSON(data []byte) error {
	type alias MappingSpec
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*m = MappingSpec(a)
	return nil
}

// RawNowPlayingEvent is an append-only observation. Events are never
// updated; they are only inserted or bulk-deleted by the admin surface.
type RawNowPlayingEvent struct {
	ID           uuid.UUID
	StationID    uuid.UUID
	ConnectionID uuid.UUID

	ObservedAt time.Time
	ReportedAt *time.Time

	ReportedArtist *string
	ReportedTitle  *string
	ReportedAlbum  *string

	RawPayload  string // original JSON or XML, as stored text
	PayloadHash string // hex SHA-256

	HTTPStatus  *int
	ContentType *string

	CreatedAt time.Time
}

// StrPtr returns a pointer to s, or nil if s is empty.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StrVal dereferences a *string, returning "" for nil.
func StrVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
