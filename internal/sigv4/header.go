package sigv4

import (
	"net/http"
	"sort"
	"strings"
)

// Header is the signer's view of request headers. Names are stored lowercase,
// so "Content-Type" and "content-type" share one entry, and values keep the
// order they were added in. Canonicalization iterates Names().
type Header map[string][]string

// HeaderFrom copies an http.Header, merging names that differ only by case.
func HeaderFrom(h http.Header) Header {
	out := make(Header, len(h))
	for k, vv := range h {
		for _, v := range vv {
			out.Add(k, v)
		}
	}
	return out
}

func (h Header) Add(name, value string) {
	key := strings.ToLower(strings.TrimSpace(name))
	h[key] = append(h[key], value)
}

func (h Header) Set(name, value string) {
	h[strings.ToLower(strings.TrimSpace(name))] = []string{value}
}

func (h Header) Get(name string) string {
	if vv := h[strings.ToLower(name)]; len(vv) > 0 {
		return vv[0]
	}
	return ""
}

func (h Header) Values(name string) []string {
	return h[strings.ToLower(name)]
}

func (h Header) Del(name string) {
	delete(h, strings.ToLower(name))
}

// Names returns the distinct header names in canonical (sorted) order.
func (h Header) Names() []string {
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (h Header) HTTP() http.Header {
	out := make(http.Header, len(h))
	for k, vv := range h {
		out[http.CanonicalHeaderKey(k)] = append([]string(nil), vv...)
	}
	return out
}
