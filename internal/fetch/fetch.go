// Package fetch implements the fetch-and-parse pipeline of spec.md
// §4.3: it turns a Connection's URL into a decoded payload and the
// mapping engine's extracted fields, for every HTTP-family transport
// (http_json, http_xml, http_text, rss). WebSocket transports are
// handled by internal/wslisten.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nowplaying-fm/ingest-engine/internal/config"
	"github.com/nowplaying-fm/ingest-engine/internal/headers"
	"github.com/nowplaying-fm/ingest-engine/internal/httpkit"
	"github.com/nowplaying-fm/ingest-engine/internal/mapping"
	"github.com/nowplaying-fm/ingest-engine/internal/model"
)

// DefaultTimeout and DefaultMaxBodyBytes are the fallbacks New applies
// when a zero-value config.HTTPFetchConfig is given (e.g. in tests);
// cmd/ingestd always supplies cfg.HTTPFetch from a validated
// config.Config, whose fields are already defaulted.
const DefaultTimeout = 20 * time.Second

const DefaultMaxBodyBytes int64 = 2 * 1024 * 1024

// Result is the outcome of one fetch-and-parse call.
type Result struct {
	StatusCode  int
	ContentType string
	Body        string // normalized-for-storage form (see decode)
	Fields      mapping.Fields
}

// Fetcher performs HTTP GETs against station endpoints using a fixed
// desktop-browser identity (spec.md §4.3 step 1), falling back to more
// browser-like headers when the defaults are rejected.
type Fetcher struct {
	client       *http.Client
	maxBodyBytes int64
}

// desktopUserAgent is the fixed identity fetch presents on every
// request; it is deliberately not the engine's own User-Agent, since
// many station endpoints block non-browser clients outright.
const desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// New builds a Fetcher with the shared httpkit transport, tuned by
// cfg (spec.md §6.3's http_fetch.timeout/max_body_bytes).
func New(cfg config.HTTPFetchConfig) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Fetcher{
		client: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithUserAgent(desktopUserAgent),
		),
		maxBodyBytes: maxBody,
	}
}

// FetchAndParse implements spec.md §4.3: resolve headers, GET with
// retry-on-failure and retry-on-non-success (both gated on
// used_defaults), decode by content type, then run the mapping engine.
func (f *Fetcher) FetchAndParse(ctx context.Context, conn *model.Connection, m *model.MappingSpec) (*Result, error) {
	hdrs, usedDefaults := headers.Resolve(conn.ConnectionType, conn.HeadersJSON)

	resp, body, err := f.do(ctx, conn.URL, hdrs)
	if err != nil {
		if !usedDefaults {
			return nil, fmt.Errorf("fetch %s: %w", conn.URL, err)
		}
		resp, body, err = f.do(ctx, conn.URL, headers.BrowserFallback(conn.ConnectionType, conn.URL))
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", conn.URL, err)
		}
	} else if usedDefaults && !isSuccess(resp.StatusCode) {
		if retryResp, retryBody, retryErr := f.do(ctx, conn.URL, headers.BrowserFallback(conn.ConnectionType, conn.URL)); retryErr == nil {
			resp, body = retryResp, retryBody
		}
	}

	contentType := resp.Header.Get("Content-Type")
	payload, stored, asXML := decode(conn.ConnectionType, body)

	return &Result{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        stored,
		Fields:      mapping.Extract(payload, m, asXML),
	}, nil
}

func (f *Fetcher) do(ctx context.Context, rawURL string, hdrs map[string]string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range hdrs {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	return resp, body, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// decode implements spec.md §4.3 step 6: it returns the value the
// mapping engine should operate on (asXML selects the element-path
// extraction branch), plus the normalized-for-storage string that
// raw_now_playing_events.raw_payload persists.
//
// A declared XML/RSS connection always resolves its mapping through
// the element-path/tag-scan extractor (asXML=true). A connection
// declared as some other transport whose body merely sniffs as XML
// (starts with '<') never takes that branch: its mapping paths still
// resolve as ordinary JSON dotted paths, over a value tree converted
// from the XML document, or over no fields at all if the document
// can't be converted — it does not borrow the declared-XML branch's
// extractor just because the bytes happen to look like XML.
func decode(connType model.ConnectionType, body []byte) (payload any, stored string, asXML bool) {
	if connType.IsXML() {
		s := normalizeForStorage(string(body))
		return s, s, true
	}

	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return v, string(body), false
	}

	trimmed := strings.TrimLeft(string(body), " \t\r\n")
	if strings.HasPrefix(trimmed, "<") {
		stored := normalizeForStorage(string(body))
		if v, ok := mapping.XMLToValue(string(body)); ok {
			return v, stored, false
		}
		return nil, stored, false
	}

	return string(body), string(body), false
}

func normalizeForStorage(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\t", "")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}
