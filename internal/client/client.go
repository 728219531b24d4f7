package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/namikmesic/claude-client/internal/aggregate"
	"github.com/namikmesic/claude-client/internal/anthropic"
	"github.com/namikmesic/claude-client/internal/stream"
	"github.com/namikmesic/claude-client/internal/transport"
	"github.com/rs/zerolog/log"
)

const userAgent = "claude-client-go"

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 1 << 20

// Client calls the Messages endpoint. Provider transports plug in through
// WithTransport and see the same request a direct call would send.
type Client struct {
	baseURL   string
	apiKey    string
	authToken string
	version   string
	betas     []string
	provider  string

	httpClient *http.Client
	transport  http.RoundTripper

	mirror   func(requestID string) io.Writer
	observer func(requestID string, ev stream.SSEEvent)
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithAPIKey sends the key as x-api-key.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithAuthToken sends the token as Authorization: Bearer.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTransport replaces the round tripper of the HTTP client. Bedrock and
// Vertex are wired this way.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

func WithVersion(v string) Option {
	return func(c *Client) { c.version = v }
}

func WithBeta(betas ...string) Option {
	return func(c *Client) { c.betas = append(c.betas, betas...) }
}

// WithProvider names the backend in logs and recordings.
func WithProvider(name string) Option {
	return func(c *Client) { c.provider = name }
}

// WithMirror copies the raw SSE bytes of every stream to the writer the
// factory returns for that request. A nil writer disables mirroring for
// the request.
func WithMirror(factory func(requestID string) io.Writer) Option {
	return func(c *Client) { c.mirror = factory }
}

// WithObserver sees every raw SSE event of every stream.
func WithObserver(fn func(requestID string, ev stream.SSEEvent)) Option {
	return func(c *Client) { c.observer = fn }
}

func New(opts ...Option) *Client {
	c := &Client{
		baseURL:  anthropic.DefaultBaseURL,
		version:  anthropic.APIVersion,
		provider: "anthropic",
		httpClient: &http.Client{
			// No timeout, streams can be long-lived. Use the context instead.
			Timeout: 0,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport != nil {
		hc := *c.httpClient
		hc.Transport = c.transport
		c.httpClient = &hc
	}
	return c
}

func (c *Client) Provider() string { return c.provider }

type requestIDKey struct{}

// ContextWithRequestID makes the client use id for the call instead of a
// fresh one, so callers can correlate logs, mirrors and recordings.
func ContextWithRequestID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the id set by ContextWithRequestID.
func RequestIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(requestIDKey{}).(uuid.UUID)
	return id, ok
}

func requestID(ctx context.Context) uuid.UUID {
	if id, ok := RequestIDFromContext(ctx); ok {
		return id
	}
	return uuid.New()
}

// CreateMessage sends a non-streaming request.
func (c *Client) CreateMessage(ctx context.Context, req *anthropic.MessageRequest) (*anthropic.Message, error) {
	r := *req
	r.Stream = false
	id := requestID(ctx)

	resp, err := c.do(ctx, id, &r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readAPIError(resp)
	}

	var msg anthropic.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil
}

// StreamMessage sends a streaming request. The caller must either drain
// Events or call Close on the returned stream.
func (c *Client) StreamMessage(ctx context.Context, req *anthropic.MessageRequest) (*stream.Stream, error) {
	r := *req
	r.Stream = true
	id := requestID(ctx)

	resp, err := c.do(ctx, id, &r)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, &anthropic.ProtocolViolationError{
			Event:  "response",
			Reason: fmt.Sprintf("expected text/event-stream, got %q", ct),
		}
	}

	body := resp.Body
	if c.mirror != nil {
		if w := c.mirror(id.String()); w != nil {
			body = stream.TeeBody(body, w)
		}
	}

	var opts []stream.Option
	if c.observer != nil {
		rid := id.String()
		opts = append(opts, stream.WithObserver(func(ev stream.SSEEvent) {
			c.observer(rid, ev)
		}))
	}
	return stream.NewStream(body, opts...), nil
}

// CreateMessageStreamed streams the response and returns the aggregated
// message, the same shape CreateMessage returns.
func (c *Client) CreateMessageStreamed(ctx context.Context, req *anthropic.MessageRequest) (*anthropic.Message, error) {
	s, err := c.StreamMessage(ctx, req)
	if err != nil {
		return nil, err
	}
	agg, err := aggregate.Collect(s.Events())
	if err != nil {
		return nil, err
	}
	return agg.Message(), nil
}

func (c *Client) do(ctx context.Context, id uuid.UUID, req *anthropic.MessageRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	target := transport.ResolveURL(c.baseURL, anthropic.MessagesPath, "")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq.Header, req.Stream)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Error().Err(err).
			Str("request_id", id.String()).
			Str("provider", c.provider).
			Str("url", target).
			Msg("messages request failed")
		return nil, err
	}

	log.Debug().
		Str("request_id", id.String()).
		Str("provider", c.provider).
		Str("model", req.Model).
		Bool("stream", req.Stream).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("messages request sent")

	return resp, nil
}

func (c *Client) setHeaders(h http.Header, streaming bool) {
	h.Set("Content-Type", "application/json")
	if streaming {
		h.Set("Accept", "text/event-stream")
	} else {
		h.Set("Accept", "application/json")
	}
	h.Set("User-Agent", userAgent)
	h.Set("anthropic-version", c.version)
	if c.apiKey != "" {
		h.Set("x-api-key", c.apiKey)
	}
	if c.authToken != "" {
		h.Set("Authorization", "Bearer "+c.authToken)
	}
	if len(c.betas) > 0 {
		h.Set("anthropic-beta", strings.Join(c.betas, ","))
	}
}

func readAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("read error response (status %d): %w", resp.StatusCode, err)
	}
	return anthropic.ParseAPIError(resp.StatusCode, resp.Header, body)
}
