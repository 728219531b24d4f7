package transport

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/namikmesic/claude-client/internal/anthropic"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Invocation is an outbound Messages call reduced to what a provider
// transport needs to re-address it.
type Invocation struct {
	Model  string
	Stream bool
	// Body is the request JSON with "model" and "stream" removed.
	Body []byte
}

// Sub-resources of /v1/messages that cloud providers do not serve.
var unsupportedSubresources = map[string]bool{
	"batches":      true,
	"count_tokens": true,
}

// ValidatePath accepts only the generation endpoint, /v1/messages.
func ValidatePath(path, provider string) error {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if segments[0] != "v1" {
		return &anthropic.InvalidRequestError{Reason: fmt.Sprintf("path %q does not start with /v1", path)}
	}
	if len(segments) < 2 || segments[1] != "messages" {
		return &anthropic.InvalidRequestError{Reason: fmt.Sprintf("path %q is not supported by %s, only /v1/messages is", path, provider)}
	}
	if len(segments) > 2 {
		sub := segments[2]
		if unsupportedSubresources[sub] {
			return &anthropic.InvalidRequestError{Reason: fmt.Sprintf("the '%s' endpoint is not supported by %s", sub, provider)}
		}
		return &anthropic.InvalidRequestError{Reason: fmt.Sprintf("unknown messages sub-resource %q", sub)}
	}
	return nil
}

// ParseInvocation pulls model and stream out of a Messages request body.
// stream is true only for a JSON true; anything else means non-streaming.
func ParseInvocation(body []byte) (*Invocation, error) {
	if !gjson.ValidBytes(body) {
		return nil, &anthropic.InvalidRequestError{Reason: "request body is not valid JSON"}
	}

	model := gjson.GetBytes(body, "model")
	if model.Type != gjson.String || strings.TrimSpace(model.Str) == "" {
		return nil, &anthropic.InvalidRequestError{Reason: "request body has no \"model\" field"}
	}
	streaming := gjson.GetBytes(body, "stream").Type == gjson.True

	out, err := deleteJSONField(body, "model")
	if err != nil {
		return nil, err
	}
	if out, err = deleteJSONField(out, "stream"); err != nil {
		return nil, err
	}

	return &Invocation{Model: model.Str, Stream: streaming, Body: out}, nil
}

// SetDefault sets a top-level body field unless the caller already did.
func SetDefault(body []byte, key string, value any) ([]byte, error) {
	if gjson.GetBytes(body, key).Exists() {
		return body, nil
	}
	out, err := sjson.SetBytes(body, key, value)
	if err != nil {
		return nil, fmt.Errorf("set %s: %w", key, err)
	}
	return out, nil
}

// MoveBetaHeader moves anthropic-beta header values into the body field
// "anthropic_beta", where provider endpoints expect them.
func MoveBetaHeader(h http.Header, body []byte) ([]byte, error) {
	var betas []string
	for _, v := range h.Values("anthropic-beta") {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				betas = append(betas, b)
			}
		}
	}
	h.Del("anthropic-beta")
	if len(betas) == 0 {
		return body, nil
	}
	out, err := sjson.SetBytes(body, "anthropic_beta", betas)
	if err != nil {
		return nil, fmt.Errorf("set anthropic_beta: %w", err)
	}
	return out, nil
}

func deleteJSONField(body []byte, path string) ([]byte, error) {
	out, err := sjson.DeleteBytes(body, path)
	if err != nil {
		return nil, fmt.Errorf("delete %s: %w", path, err)
	}
	return out, nil
}

// ReadBody drains and closes a request body.
func ReadBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return body, nil
}

// CloneWithBody copies req with a replayable body and matching length.
func CloneWithBody(req *http.Request, body []byte) *http.Request {
	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	out.ContentLength = int64(len(body))
	out.Header.Del("Content-Length")
	return out
}
