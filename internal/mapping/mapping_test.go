package mapping

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nowplaying-fm/ingest-engine/internal/model"
)

func decodeJSON(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("invalid JSON fixture: %v", err)
	}
	return v
}

func TestExtractJSONFlatMapping(t *testing.T) {
	payload := decodeJSON(t, `{"song":{"artist":"Daft Punk","title":"One More Time"}}`)
	m := &model.MappingSpec{ArtistPath: "song.artist", TitlePath: "song.title"}

	f := Extract(payload, m, false)
	if f.Artist == nil || *f.Artist != "Daft Punk" {
		t.Fatalf("unexpected artist: %v", f.Artist)
	}
	if f.Title == nil || *f.Title != "One More Time" {
		t.Fatalf("unexpected title: %v", f.Title)
	}
}

func TestExtractJSONListPath(t *testing.T) {
	payload := decodeJSON(t, `{"tracks":[{"artist":"A","title":"X"},{"artist":"B","title":"Y"}]}`)
	m := &model.MappingSpec{ListPath: "tracks", ArtistPath: "artist", TitlePath: "title"}

	f := Extract(payload, m, false)
	if f.Artist == nil || *f.Artist != "A" {
		t.Fatalf("expected first list element, got %v", f.Artist)
	}
}

func TestExtractJSONUnwrapsSingleKeyObject(t *testing.T) {
	payload := decodeJSON(t, `{"data":{"artist":"Radiohead","title":"Creep"}}`)
	m := &model.MappingSpec{ArtistPath: "artist", TitlePath: "title"}

	f := Extract(payload, m, false)
	if f.Artist == nil || *f.Artist != "Radiohead" {
		t.Fatalf("expected unwrap heuristic to reach nested object, got %v", f.Artist)
	}
}

func TestExtractJSONReportedAtAndDuration(t *testing.T) {
	payload := decodeJSON(t, `{"artist":"A","title":"B","played_at":"2026-01-01T12:00:00Z","duration":210}`)
	m := &model.MappingSpec{ArtistPath: "artist", TitlePath: "title", ReportedAtPath: "played_at", DurationPath: "duration"}

	f := Extract(payload, m, false)
	if f.ReportedAt == nil || !f.ReportedAt.Equal(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected reported_at: %v", f.ReportedAt)
	}
	if f.Duration == nil || *f.Duration != 210*time.Second {
		t.Fatalf("unexpected duration: %v", f.Duration)
	}
}

func TestExtractJSONMissingPathsYieldEmptyFields(t *testing.T) {
	payload := decodeJSON(t, `{"unrelated":"value"}`)
	m := &model.MappingSpec{ArtistPath: "artist", TitlePath: "title"}

	f := Extract(payload, m, false)
	if f.Artist != nil || f.Title != nil {
		t.Fatalf("expected empty fields, got %+v", f)
	}
}

func TestExtractBestEffortWithoutMapping(t *testing.T) {
	payload := decodeJSON(t, `{"artist":"Portishead","song":"Glory Box"}`)

	f := Extract(payload, nil, false)
	if f.Artist == nil || *f.Artist != "Portishead" {
		t.Fatalf("unexpected artist: %v", f.Artist)
	}
	if f.Title == nil || *f.Title != "Glory Box" {
		t.Fatalf("unexpected title: %v", f.Title)
	}
}

func TestExtractBestEffortRecursesIntoArray(t *testing.T) {
	payload := decodeJSON(t, `[{"artist":"A","trackName":"X"}]`)

	f := Extract(payload, nil, false)
	if f.Artist == nil || *f.Artist != "A" {
		t.Fatalf("unexpected artist: %v", f.Artist)
	}
	if f.Title == nil || *f.Title != "X" {
		t.Fatalf("unexpected title: %v", f.Title)
	}
}

func TestExtractXMLFlatPaths(t *testing.T) {
	body := `<nowplaying><artist>Boards of Canada</artist><title>Roygbiv</title></nowplaying>`
	m := &model.MappingSpec{ArtistPath: "artist", TitlePath: "title"}

	f := Extract(body, m, true)
	if f.Artist == nil || *f.Artist != "Boards of Canada" {
		t.Fatalf("unexpected artist: %v", f.Artist)
	}
	if f.Title == nil || *f.Title != "Roygbiv" {
		t.Fatalf("unexpected title: %v", f.Title)
	}
}

func TestExtractXMLWithListPath(t *testing.T) {
	body := `<rss><item><artist>A</artist><title>X</title></item></rss>`
	m := &model.MappingSpec{ListPath: "item", ArtistPath: "artist", TitlePath: "title"}

	f := Extract(body, m, true)
	if f.Artist == nil || *f.Artist != "A" {
		t.Fatalf("unexpected artist: %v", f.Artist)
	}
}

func TestExtractXMLNonStringPayloadIsEmpty(t *testing.T) {
	m := &model.MappingSpec{ArtistPath: "artist"}
	f := Extract(map[string]any{"artist": "nope"}, m, true)
	if !f.empty() {
		t.Fatalf("expected empty fields for non-string XML payload, got %+v", f)
	}
}

func TestXMLToValueBuildsNestedMap(t *testing.T) {
	v, ok := XMLToValue(`<response><wrapper><song><artist>Nested</artist></song></wrapper></response>`)
	if !ok {
		t.Fatal("expected successful conversion")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", v)
	}
	wrapper, ok := obj["wrapper"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested wrapper map, got %+v", obj)
	}
	song, ok := wrapper["song"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested song map, got %+v", wrapper)
	}
	if song["artist"] != "Nested" {
		t.Fatalf("unexpected artist: %v", song["artist"])
	}
}

func TestXMLToValueCollapsesRepeatedChildrenIntoSlice(t *testing.T) {
	v, ok := XMLToValue(`<items><item>A</item><item>B</item></items>`)
	if !ok {
		t.Fatal("expected successful conversion")
	}
	obj := v.(map[string]any)
	items, ok := obj["item"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("expected a 2-element slice, got %+v", obj["item"])
	}
}

func TestXMLToValueRejectsMalformedDocument(t *testing.T) {
	if _, ok := XMLToValue(""); ok {
		t.Fatal("expected empty document to fail conversion")
	}
}

func TestParseReportedAtEpochSeconds(t *testing.T) {
	tm, ok := ParseReportedAt(float64(1735689600))
	if !ok {
		t.Fatal("expected parse success")
	}
	if tm.Year() != 2025 {
		t.Fatalf("unexpected year: %v", tm)
	}
}

func TestParseReportedAtEpochMillis(t *testing.T) {
	tm, ok := ParseReportedAt(float64(1735689600123))
	if !ok {
		t.Fatal("expected parse success")
	}
	if tm.Nanosecond() == 0 {
		t.Fatalf("expected sub-second precision from millis epoch, got %v", tm)
	}
}

func TestParseReportedAtRFC3339(t *testing.T) {
	tm, ok := ParseReportedAt("2026-03-05T09:00:00Z")
	if !ok || tm.Year() != 2026 {
		t.Fatalf("unexpected parse result: %v, %v", tm, ok)
	}
}

func TestParseReportedAtUnparseable(t *testing.T) {
	if _, ok := ParseReportedAt("not a time"); ok {
		t.Fatal("expected parse failure")
	}
}

func TestParseDurationSecondsPlainSeconds(t *testing.T) {
	d, ok := ParseDurationSeconds(float64(210))
	if !ok || d != 210*time.Second {
		t.Fatalf("unexpected duration: %v, %v", d, ok)
	}
}

func TestParseDurationSecondsMillis(t *testing.T) {
	d, ok := ParseDurationSeconds(float64(210_000))
	if !ok || d != 210*time.Second {
		t.Fatalf("unexpected duration: %v, %v", d, ok)
	}
}

func TestParseDurationSecondsNanos(t *testing.T) {
	d, ok := ParseDurationSeconds(float64(210_000_000_000))
	if !ok || d != 210*time.Second {
		t.Fatalf("unexpected duration: %v, %v", d, ok)
	}
}

func TestParseDurationSecondsISO8601(t *testing.T) {
	d, ok := ParseDurationSeconds("PT3M30S")
	if !ok || d != 3*time.Minute+30*time.Second {
		t.Fatalf("unexpected duration: %v, %v", d, ok)
	}
}

func TestParseDurationSecondsRejectsZero(t *testing.T) {
	if _, ok := ParseDurationSeconds(float64(0)); ok {
		t.Fatal("expected zero duration to be rejected")
	}
}

func TestParseDurationSecondsRejectsMalformed(t *testing.T) {
	if _, ok := ParseDurationSeconds("not-a-duration"); ok {
		t.Fatal("expected malformed duration string to be rejected")
	}
}
