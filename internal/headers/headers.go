// Package headers resolves the request headers for a connection poll:
// caller-supplied headers win, otherwise a per-transport default table
// is synthesized. A browser-fallback variant is used on retry when the
// defaults get blocked (spec.md §4.2).
package headers

import (
	"net"
	"net/url"

	"github.com/nowplaying-fm/ingest-engine/internal/model"
)

// Resolve returns the header map to send for conn's first request
// attempt, and whether that map is the synthesized default table
// (rather than caller-supplied headers). WS connections always return
// the caller-supplied map verbatim with usedDefaults=false.
func Resolve(connType model.ConnectionType, supplied map[string]string) (headers map[string]string, usedDefaults bool) {
	if connType.IsWS() {
		return cloneOrEmpty(supplied), false
	}
	if len(supplied) > 0 {
		return cloneOrEmpty(supplied), false
	}
	return DefaultHeaders(connType), true
}

// DefaultHeaders returns the per-transport default header table,
// merged with Cache-Control/Pragma no-cache directives.
func DefaultHeaders(connType model.ConnectionType) map[string]string {
	h := map[string]string{
		"Accept":        acceptFor(connType),
		"Cache-Control": "no-cache",
		"Pragma":        "no-cache",
	}
	return h
}

func acceptFor(connType model.ConnectionType) string {
	switch model.Normalize(string(connType)) {
	case model.ConnectionHTTPXML:
		return "application/xml, text/xml;q=0.9, */*;q=0.8"
	case model.ConnectionRSS:
		return "application/rss+xml, application/xml;q=0.9, */*;q=0.8"
	case model.ConnectionHTTPText:
		return "text/plain, */*;q=0.8"
	default:
		return "application/json, text/javascript, */*; q=0.01"
	}
}

// BrowserFallback returns the default table for connType plus
// Accept-Language, and (if rawURL parses) Origin/Referer derived from
// its scheme/host/port with default ports omitted.
func BrowserFallback(connType model.ConnectionType, rawURL string) map[string]string {
	h := DefaultHeaders(connType)
	h["Accept-Language"] = "en-US,en;q=0.9"

	if origin, ok := originFor(rawURL); ok {
		h["Origin"] = origin
		h["Referer"] = origin + "/"
	}
	return h
}

func originFor(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" || isDefaultPort(u.Scheme, port) {
		return u.Scheme + "://" + host, true
	}
	return u.Scheme + "://" + net.JoinHostPort(host, port), true
}

func isDefaultPort(scheme, port string) bool {
	switch {
	case scheme == "http" && port == "80":
		return true
	case scheme == "https" && port == "443":
		return true
	default:
		return false
	}
}

// NormalizeForStorage returns the header map to persist for a
// connection's headers_json: if the transport wants defaults and the
// supplied map is empty, substitute the default table; otherwise keep
// the supplied map verbatim (WS connections always keep it verbatim).
func NormalizeForStorage(connType model.ConnectionType, supplied map[string]string) map[string]string {
	if connType.IsWS() {
		return supplied
	}
	if len(supplied) == 0 {
		return DefaultHeaders(connType)
	}
	return supplied
}

func cloneOrEmpty(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
