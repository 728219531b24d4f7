package vertex

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/namikmesic/claude-client/internal/client"
	"github.com/namikmesic/claude-client/internal/transport"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/sjson"
)

// AnthropicVersion is set as the body field anthropic_version.
const AnthropicVersion = "vertex-2023-10-16"

// Transport re-addresses /v1/messages requests to the Vertex rawPredict
// endpoints. Vertex already answers streams with SSE, so responses pass
// through.
type Transport struct {
	base  http.RoundTripper
	creds *Credentials
}

type TransportOption func(*Transport)

func WithBase(rt http.RoundTripper) TransportOption {
	return func(t *Transport) { t.base = rt }
}

func NewTransport(creds *Credentials, opts ...TransportOption) *Transport {
	t := &Transport{base: http.DefaultTransport, creds: creds}
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
	return t.base.RoundTrip(out)
}

// RewriteRequest consumes req's body and returns the authenticated
// rawPredict or streamRawPredict request.
func (t *Transport) RewriteRequest(req *http.Request) (*http.Request, error) {
	body, err := transport.ReadBody(req)
	if err != nil {
		return nil, err
	}
	if err := transport.ValidatePath(req.URL.Path, "Vertex"); err != nil {
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
	// streamRawPredict still expects the flag in the body.
	if inv.Stream {
		if payload, err = sjson.SetBytes(payload, "stream", true); err != nil {
			return nil, fmt.Errorf("set stream: %w", err)
		}
	}

	token, err := t.creds.Token()
	if err != nil {
		return nil, err
	}

	out := transport.CloneWithBody(req, payload)
	transport.PrepareProviderHeaders(out.Header)
	out.Header.Set("Authorization", "Bearer "+token)
	out.Host = ""
	out.URL.Path, out.URL.RawPath = t.predictPath(inv.Model, inv.Stream)

	log.Debug().
		Str("model", inv.Model).
		Bool("stream", inv.Stream).
		Str("url", out.URL.String()).
		Interface("headers", transport.RedactHeaders(out.Header)).
		Msg("rewrote request for vertex")

	return out, nil
}

func (t *Transport) predictPath(model string, streaming bool) (path, rawPath string) {
	method := "rawPredict"
	if streaming {
		method = "streamRawPredict"
	}
	prefix := fmt.Sprintf("/v1/projects/%s/locations/%s/publishers/anthropic/models/", t.creds.project, t.creds.region)
	rawPrefix := fmt.Sprintf("/v1/projects/%s/locations/%s/publishers/anthropic/models/",
		url.PathEscape(t.creds.project), url.PathEscape(t.creds.region))
	return prefix + model + ":" + method, rawPrefix + url.PathEscape(model) + ":" + method
}

// NewClient returns a Messages client that talks to Vertex AI.
func NewClient(creds *Credentials, opts ...client.Option) *client.Client {
	base := []client.Option{
		client.WithBaseURL(BaseURL(creds.Region())),
		client.WithTransport(NewTransport(creds)),
		client.WithProvider("vertex"),
	}
	return client.New(append(base, opts...)...)
}
