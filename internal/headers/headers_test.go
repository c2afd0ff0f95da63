package headers

import (
	"testing"

	"github.com/nowplaying-fm/ingest-engine/internal/model"
)

func TestResolveUsesDefaultsWhenEmpty(t *testing.T) {
	h, used := Resolve(model.ConnectionHTTPJSON, nil)
	if !used {
		t.Fatalf("expected usedDefaults=true")
	}
	if h["Accept"] != "application/json, text/javascript, */*; q=0.01" {
		t.Fatalf("unexpected Accept header: %q", h["Accept"])
	}
	if h["Cache-Control"] != "no-cache" || h["Pragma"] != "no-cache" {
		t.Fatalf("missing no-cache directives: %#v", h)
	}
}

func TestResolvePrefersSupplied(t *testing.T) {
	supplied := map[string]string{"X-Api-Key": "abc"}
	h, used := Resolve(model.ConnectionHTTPJSON, supplied)
	if used {
		t.Fatalf("expected usedDefaults=false")
	}
	if h["X-Api-Key"] != "abc" {
		t.Fatalf("expected supplied headers to be returned verbatim")
	}
	if _, ok := h["Accept"]; ok {
		t.Fatalf("supplied headers should not be merged with defaults")
	}
}

func TestResolveWSAlwaysVerbatim(t *testing.T) {
	h, used := Resolve(model.ConnectionWSJSON, nil)
	if used {
		t.Fatalf("ws_json should never report usedDefaults")
	}
	if len(h) != 0 {
		t.Fatalf("expected empty map for ws_json with no supplied headers, got %#v", h)
	}
}

func TestAcceptHeaderPerTransport(t *testing.T) {
	cases := map[model.ConnectionType]string{
		model.ConnectionHTTPXML:  "application/xml, text/xml;q=0.9, */*;q=0.8",
		model.ConnectionRSS:      "application/rss+xml, application/xml;q=0.9, */*;q=0.8",
		model.ConnectionHTTPText: "text/plain, */*;q=0.8",
		model.ConnectionHTTPJSON: "application/json, text/javascript, */*; q=0.01",
	}
	for ct, want := range cases {
		got := DefaultHeaders(ct)["Accept"]
		if got != want {
			t.Errorf("%s: got Accept=%q, want %q", ct, got, want)
		}
	}
}

func TestBrowserFallbackOmitsDefaultPort(t *testing.T) {
	h := BrowserFallback(model.ConnectionHTTPJSON, "https://api.example.com:443/now-playing")
	if h["Origin"] != "https://api.example.com" {
		t.Fatalf("expected default port omitted, got Origin=%q", h["Origin"])
	}
	if h["Referer"] != "https://api.example.com/" {
		t.Fatalf("unexpected Referer: %q", h["Referer"])
	}
	if h["Accept-Language"] != "en-US,en;q=0.9" {
		t.Fatalf("missing Accept-Language")
	}
}

func TestBrowserFallbackKeepsNonDefaultPort(t *testing.T) {
	h := BrowserFallback(model.ConnectionHTTPJSON, "http://stream.example.com:8080/np")
	if h["Origin"] != "http://stream.example.com:8080" {
		t.Fatalf("expected non-default port retained, got Origin=%q", h["Origin"])
	}
}

func TestBrowserFallbackInvalidURL(t *testing.T) {
	h := BrowserFallback(model.ConnectionHTTPJSON, "://not-a-url")
	if _, ok := h["Origin"]; ok {
		t.Fatalf("expected no Origin for unparsable URL")
	}
}

func TestNormalizeForStorageSubstitutesDefaults(t *testing.T) {
	got := NormalizeForStorage(model.ConnectionHTTPJSON, nil)
	if got["Accept"] == "" {
		t.Fatalf("expected default table to be substituted for empty headers")
	}
}

func TestNormalizeForStorageWSVerbatim(t *testing.T) {
	got := NormalizeForStorage(model.ConnectionWSJSON, nil)
	if got != nil {
		t.Fatalf("expected ws_json to keep nil verbatim, got %#v", got)
	}
}
