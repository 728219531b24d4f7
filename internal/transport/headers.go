package transport

import (
	"net/http"
	"net/url"
	"strings"
)

// Hop-by-hop headers that must not be forwarded.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// Headers the direct endpoint understands but provider endpoints must not
// receive: credentials for a different service and the direct API version.
var directOnlyHeaders = []string{
	"X-Api-Key",
	"Anthropic-Version",
	"Authorization",
}

func StripHopByHop(h http.Header) {
	for _, key := range hopByHopHeaders {
		h.Del(key)
	}
}

// PrepareProviderHeaders cleans a direct-endpoint header set before a
// provider transport adds its own authentication.
func PrepareProviderHeaders(h http.Header) {
	StripHopByHop(h)
	for _, key := range directOnlyHeaders {
		h.Del(key)
	}
	h.Del("Host")
}

// RedactHeaders flattens headers for logs and storage with secrets masked.
func RedactHeaders(h http.Header) map[string][]string {
	m := make(map[string][]string, len(h))
	for k, v := range h {
		switch strings.ToLower(k) {
		case "authorization", "x-api-key", "x-amz-security-token":
			m[k] = []string{"[REDACTED]"}
		default:
			m[k] = v
		}
	}
	return m
}

// ResolveURL joins a base URL and an absolute path, falling back to the
// direct endpoint when base does not parse.
func ResolveURL(baseURL, path, rawQuery string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		u = &url.URL{Scheme: "https", Host: "api.anthropic.com"}
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = rawQuery
	return u.String()
}
