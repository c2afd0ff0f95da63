// Package mapping implements the payload-to-fields extractor: a pure
// function from a decoded payload, an optional declarative mapping,
// and a transport family to a tuple of (artist, title, album,
// reported_at, duration_seconds).
//
// JSON payloads are walked as generic any values (the shape
// encoding/json produces); XML payloads arrive pre-flattened into a
// dotted-path map by the xml sub-parser in xml.go.
package mapping

import (
	"strings"
	"time"

	"github.com/nowplaying-fm/ingest-engine/internal/model"
)

// Fields holds the result of extraction. Every field is optional.
type Fields struct {
	Artist     *string
	Title      *string
	Album      *string
	ReportedAt *time.Time
	Duration   *time.Duration
}

func (f Fields) empty() bool {
	return f.Artist == nil && f.Title == nil && f.Album == nil && f.ReportedAt == nil && f.Duration == nil
}

// Extract runs the mapping engine against a decoded JSON payload (or,
// for XML/RSS transports, a raw XML string wrapped as payload=string).
// transportIsXML selects the element-path extraction branch of §4.1.
// With a nil mapping, JSON payloads go through the best-effort probe
// and XML payloads yield no fields.
func Extract(payload any, m *model.MappingSpec, transportIsXML bool) Fields {
	if transportIsXML {
		xmlStr, ok := payload.(string)
		if !ok || m == nil {
			return Fields{}
		}
		return extractXML(xmlStr, m)
	}
	if m == nil {
		return extractBestEffort(payload)
	}
	return extractJSON(payload, m)
}

// extractJSON implements the JSON path resolution, list_path targeting,
// and the single-keyed-object unwrap heuristic of spec.md §4.1.
func extractJSON(payload any, m *model.MappingSpec) Fields {
	candidates := []any{payload}
	if obj, ok := payload.(map[string]any); ok && len(obj) == 1 {
		for _, v := range obj {
			candidates = append(candidates, v)
		}
	}

	for _, base := range candidates {
		target := base
		if m.ListPath != "" {
			if list := getPath(base, m.ListPath); list != nil {
				if arr, ok := list.([]any); ok && len(arr) > 0 {
					target = arr[0]
				}
			}
		}

		f := Fields{
			Artist: lookupString(target, m.ArtistPath),
			Title:  lookupString(target, m.TitlePath),
			Album:  lookupString(target, m.AlbumPath),
		}
		if raw := lookupAny(target, m.ReportedAtPath); raw != nil {
			if t, ok := ParseReportedAt(raw); ok {
				f.ReportedAt = &t
			}
		}
		if raw := lookupAny(target, m.DurationPath); raw != nil {
			if d, ok := ParseDurationSeconds(raw); ok {
				f.Duration = &d
			}
		}

		if !f.empty() {
			return f
		}
	}

	return Fields{}
}

// extractBestEffort implements the mapping-absent probe of §4.1: it
// checks well-known keys at the root, recursing into the first element
// if the root is an array.
func extractBestEffort(payload any) Fields {
	switch v := payload.(type) {
	case map[string]any:
		f := Fields{
			Artist: firstString(v, "artist", "artistName"),
			Title:  firstString(v, "title", "song", "trackName"),
			Album:  firstString(v, "album", "collectionName"),
		}
		if raw, ok := firstAny(v, "duration", "durationSeconds", "duration_seconds"); ok {
			if d, ok := ParseDurationSeconds(raw); ok {
				f.Duration = &d
			}
		}
		return f
	case []any:
		if len(v) > 0 {
			return extractBestEffort(v[0])
		}
	}
	return Fields{}
}

// getPath descends a dotted path through nested object keys. Empty
// segments are skipped. A non-object intermediate yields "not found".
// Arrays are not indexed except by the caller's own list_path handling.
func getPath(v any, path string) any {
	cur := v
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		next, ok := obj[part]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func lookupAny(v any, path string) any {
	if path == "" {
		return nil
	}
	return getPath(v, path)
}

func lookupString(v any, path string) *string {
	raw := lookupAny(v, path)
	s, ok := raw.(string)
	if !ok {
		return nil
	}
	return &s
}

func firstString(obj map[string]any, keys ...string) *string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok {
			return &s
		}
	}
	return nil
}

func firstAny(obj map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v, true
		}
	}
	return nil, false
}
