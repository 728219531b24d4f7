package bedrock

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/namikmesic/claude-client/internal/anthropic"
	"github.com/namikmesic/claude-client/internal/transport"
	"github.com/rs/zerolog/log"
)

const (
	// AnthropicVersion is sent as the body field and header anthropic_version.
	AnthropicVersion       = "bedrock-2023-05-31"
	HeaderAnthropicVersion = "anthropic_version"

	HeaderBedrockContentType = "X-Amzn-Bedrock-Content-Type"
	EventStreamContentType   = "application/vnd.amazon.eventstream"
	SSEContentType           = "text/event-stream; charset=utf-8"
)

// Transport re-addresses /v1/messages requests to Bedrock InvokeModel,
// authenticates them, and turns eventstream responses back into SSE.
type Transport struct {
	base http.RoundTripper
	auth Authenticator
	now  func() time.Time
}

type TransportOption func(*Transport)

// WithBase sets the round tripper that sends rewritten requests.
func WithBase(rt http.RoundTripper) TransportOption {
	return func(t *Transport) { t.base = rt }
}

// WithClock fixes the signing time. Tests use it for stable signatures.
func WithClock(now func() time.Time) TransportOption {
	return func(t *Transport) { t.now = now }
}

func NewTransport(auth Authenticator, opts ...TransportOption) *Transport {
	t := &Transport{
		base: http.DefaultTransport,
		auth: auth,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	out, err := t.RewriteRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	return RewriteResponse(resp)
}

// RewriteRequest consumes req's body and returns the authenticated
// InvokeModel request. The model and stream fields move from the body into
// the path, and anthropic-beta moves from the headers into the body.
func (t *Transport) RewriteRequest(req *http.Request) (*http.Request, error) {
	body, err := transport.ReadBody(req)
	if err != nil {
		return nil, err
	}
	if err := transport.ValidatePath(req.URL.Path, "Bedrock"); err != nil {
		return nil, err
	}

	inv, err := transport.ParseInvocation(body)
	if err != nil {
		return nil, err
	}
	payload, err := transport.SetDefault(inv.Body, "anthropic_version", AnthropicVersion)
	if err != nil {
		return nil, err
	}

	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if payload, err = transport.MoveBetaHeader(header, payload); err != nil {
		return nil, err
	}
	transport.PrepareProviderHeaders(header)
	header.Set(HeaderAnthropicVersion, AnthropicVersion)

	out := transport.CloneWithBody(req, payload)
	out.Header = header
	out.Host = ""
	out.URL.Path, out.URL.RawPath = invokePath(inv.Model, inv.Stream)

	if err := t.auth.Authenticate(req.Context(), out, payload, t.now()); err != nil {
		return nil, err
	}

	log.Debug().
		Str("model", inv.Model).
		Bool("stream", inv.Stream).
		Str("url", out.URL.String()).
		Interface("headers", transport.RedactHeaders(out.Header)).
		Msg("rewrote request for bedrock")

	return out, nil
}

func invokePath(model string, streaming bool) (path, rawPath string) {
	action := "invoke"
	if streaming {
		action = "invoke-with-response-stream"
	}
	return "/model/" + model + "/" + action, "/model/" + url.PathEscape(model) + "/" + action
}

// RewriteResponse replaces an eventstream body with its SSE transcoding.
// Other responses, including every error response, pass through untouched.
func RewriteResponse(resp *http.Response) (*http.Response, error) {
	if !hasMediaType(resp.Header.Get("Content-Type"), EventStreamContentType) {
		return resp, nil
	}

	inner := resp.Header.Values(HeaderBedrockContentType)
	if !anyMediaType(inner, "application/json") {
		resp.Body.Close()
		return nil, &anthropic.InvalidRequestError{Reason: fmt.Sprintf(
			"expected %s to include application/json, got %q", HeaderBedrockContentType, strings.Join(inner, ", "))}
	}

	resp.Body = NewTranscoder(resp.Body)
	resp.Header.Set("Content-Type", SSEContentType)
	resp.Header.Del("Content-Length")
	resp.Header.Del(HeaderBedrockContentType)
	resp.ContentLength = -1
	return resp, nil
}

func hasMediaType(value, want string) bool {
	mt, _, err := mime.ParseMediaType(value)
	return err == nil && mt == want
}

func anyMediaType(values []string, want string) bool {
	for _, v := range values {
		if hasMediaType(v, want) {
			return true
		}
	}
	return false
}
