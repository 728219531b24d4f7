package bedrock

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/namikmesic/claude-client/internal/anthropic"
	"github.com/namikmesic/claude-client/internal/client"
	"github.com/namikmesic/claude-client/internal/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"

var fixedTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func testAuth(t *testing.T) *SigV4Auth {
	t.Helper()
	auth, err := NewAccessKeyCredentials("AKIDEXAMPLE", "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY", "us-east-1")
	require.NoError(t, err)
	return auth
}

func newMessagesRequest(t *testing.T, path, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "https://bedrock-runtime.us-east-1.amazonaws.com"+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", "sk-ant-direct")
	req.Header.Set("anthropic-version", anthropic.APIVersion)
	return req
}

func TestRewriteRequest(t *testing.T) {
	tr := NewTransport(testAuth(t), WithClock(func() time.Time { return fixedTime }))
	req := newMessagesRequest(t, "/v1/messages",
		`{"model":"`+testModel+`","stream":true,"max_tokens":5,"messages":[]}`)
	req.Header.Set("anthropic-beta", "tools-2024-04-04")

	out, err := tr.RewriteRequest(req)
	require.NoError(t, err)

	assert.Equal(t, "/model/"+testModel+"/invoke-with-response-stream", out.URL.Path)
	assert.Equal(t, "bedrock-runtime.us-east-1.amazonaws.com", out.URL.Host)

	body, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"max_tokens":5,"messages":[],"anthropic_version":"bedrock-2023-05-31","anthropic_beta":["tools-2024-04-04"]}`,
		string(body))
	assert.Equal(t, int64(len(body)), out.ContentLength)

	sum := sha256.Sum256(body)
	assert.Equal(t, hex.EncodeToString(sum[:]), out.Header.Get("X-Amz-Content-Sha256"))
	assert.Equal(t, "20240102T030405Z", out.Header.Get("X-Amz-Date"))
	assert.Equal(t, AnthropicVersion, out.Header.Get(HeaderAnthropicVersion))
	assert.True(t, strings.HasPrefix(out.Header.Get("Authorization"),
		"AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20240102/us-east-1/bedrock/aws4_request"))

	assert.Empty(t, out.Header.Get("x-api-key"))
	assert.Empty(t, out.Header.Get("anthropic-version"))
	assert.Empty(t, out.Header.Get("anthropic-beta"))
}

func TestRewriteRequestNonStreaming(t *testing.T) {
	tr := NewTransport(testAuth(t), WithClock(func() time.Time { return fixedTime }))
	out, err := tr.RewriteRequest(newMessagesRequest(t, "/v1/messages",
		`{"model":"`+testModel+`","max_tokens":5,"anthropic_version":"custom"}`))
	require.NoError(t, err)

	assert.Equal(t, "/model/"+testModel+"/invoke", out.URL.Path)
	body, _ := io.ReadAll(out.Body)
	assert.JSONEq(t, `{"max_tokens":5,"anthropic_version":"custom"}`, string(body))
}

func TestRewriteRequestIsDeterministic(t *testing.T) {
	tr := NewTransport(testAuth(t), WithClock(func() time.Time { return fixedTime }))
	body := `{"model":"m","max_tokens":5}`

	a, err := tr.RewriteRequest(newMessagesRequest(t, "/v1/messages", body))
	require.NoError(t, err)
	b, err := tr.RewriteRequest(newMessagesRequest(t, "/v1/messages", body))
	require.NoError(t, err)

	assert.Equal(t, a.Header.Get("Authorization"), b.Header.Get("Authorization"))
}

func TestRewriteRequestRejects(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		wantErr string
	}{
		{"count tokens", "/v1/messages/count_tokens", `{"model":"m"}`, "count_tokens"},
		{"batches", "/v1/messages/batches", `{"model":"m"}`, "batches"},
		{"wrong version", "/v2/messages", `{"model":"m"}`, "/v1"},
		{"no model", "/v1/messages", `{"max_tokens":1}`, "model"},
		{"model not a string", "/v1/messages", `{"model":7}`, "model"},
	}

	tr := NewTransport(testAuth(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newMessagesRequest(t, tt.path, "")
			body := &trackingBody{Reader: strings.NewReader(tt.body)}
			req.Body = body

			_, err := tr.RewriteRequest(req)
			var invalid *anthropic.InvalidRequestError
			require.True(t, errors.As(err, &invalid), "got %v", err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, 1, body.closed)
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	auth, err := NewAPIKeyCredentials(" bedrock-key ", "eu-west-1")
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", auth.Region())

	tr := NewTransport(auth)
	out, err := tr.RewriteRequest(newMessagesRequest(t, "/v1/messages", `{"model":"m"}`))
	require.NoError(t, err)
	assert.Equal(t, "Bearer bedrock-key", out.Header.Get("Authorization"))
	assert.Empty(t, out.Header.Get("X-Amz-Date"))

	_, err = NewAPIKeyCredentials("", "eu-west-1")
	var authErr *anthropic.AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "bearer token", authErr.Field)

	_, err = NewAPIKeyCredentials("k", " ")
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "region", authErr.Field)
}

func TestSigV4AuthFromProvider(t *testing.T) {
	provider := credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", "session")
	auth, err := NewSigV4Auth(provider, "us-west-2")
	require.NoError(t, err)

	tr := NewTransport(auth, WithClock(func() time.Time { return fixedTime }))
	out, err := tr.RewriteRequest(newMessagesRequest(t, "/v1/messages", `{"model":"m"}`))
	require.NoError(t, err)
	assert.Equal(t, "session", out.Header.Get("X-Amz-Security-Token"))
	assert.Contains(t, out.Header.Get("Authorization"), "/us-west-2/bedrock/aws4_request")
}

func TestRewriteResponse(t *testing.T) {
	t.Run("json passes through", func(t *testing.T) {
		body := &trackingBody{Reader: strings.NewReader(`{}`)}
		resp := &http.Response{Header: http.Header{"Content-Type": {"application/json"}}, Body: body}

		out, err := RewriteResponse(resp)
		require.NoError(t, err)
		assert.Same(t, resp, out)
		assert.Same(t, body, out.Body)
	})

	t.Run("eventstream without json payloads", func(t *testing.T) {
		body := &trackingBody{Reader: strings.NewReader("")}
		resp := &http.Response{
			Header: http.Header{
				"Content-Type":                {EventStreamContentType},
				"X-Amzn-Bedrock-Content-Type": {"text/plain"},
			},
			Body: body,
		}

		_, err := RewriteResponse(resp)
		var invalid *anthropic.InvalidRequestError
		require.True(t, errors.As(err, &invalid))
		assert.Contains(t, err.Error(), "text/plain")
		assert.Equal(t, 1, body.closed)
	})

	t.Run("eventstream with json among inner content types", func(t *testing.T) {
		body := &trackingBody{Reader: bytes.NewReader(encodeFrames(t, chunkFrame(`{"type":"ping"}`)))}
		resp := &http.Response{
			Header: http.Header{
				"Content-Type":                {EventStreamContentType},
				"X-Amzn-Bedrock-Content-Type": {"text/plain", "application/json; charset=utf-8"},
			},
			Body: body,
		}

		out, err := RewriteResponse(resp)
		require.NoError(t, err)
		assert.Equal(t, SSEContentType, out.Header.Get("Content-Type"))
		require.NoError(t, out.Body.Close())
		assert.Equal(t, 1, body.closed)
	})

	t.Run("eventstream missing inner content type", func(t *testing.T) {
		body := &trackingBody{Reader: strings.NewReader("")}
		resp := &http.Response{Header: http.Header{"Content-Type": {EventStreamContentType}}, Body: body}

		_, err := RewriteResponse(resp)
		require.Error(t, err)
		assert.Equal(t, 1, body.closed)
	})

	t.Run("eventstream becomes sse", func(t *testing.T) {
		body := &trackingBody{Reader: bytes.NewReader(encodeFrames(t, chunkFrame(`{"type":"ping"}`)))}
		resp := &http.Response{
			Header: http.Header{
				"Content-Type":                {EventStreamContentType},
				"Content-Length":              {"123"},
				"X-Amzn-Bedrock-Content-Type": {"application/json"},
			},
			ContentLength: 123,
			Body:          body,
		}

		out, err := RewriteResponse(resp)
		require.NoError(t, err)
		assert.Equal(t, SSEContentType, out.Header.Get("Content-Type"))
		assert.Empty(t, out.Header.Get("Content-Length"))
		assert.Equal(t, int64(-1), out.ContentLength)

		data, err := io.ReadAll(out.Body)
		require.NoError(t, err)
		assert.Equal(t, "event: ping\ndata: {\"type\":\"ping\"}\n\n", string(data))
		require.NoError(t, out.Body.Close())
		assert.Equal(t, 1, body.closed)
	})
}

var streamEvents = []string{
	`{"type":"message_start","message":{"id":"msg_bdrk_1","type":"message","role":"assistant","content":[],"model":"claude-3-5-sonnet-20241022","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":1}}}`,
	`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
	`{"type":"ping"}`,
	`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`,
	`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" from Bedrock"}}`,
	`{"type":"content_block_stop","index":0}`,
	`{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":6}}`,
	`{"type":"message_stop"}`,
}

func fakeBedrock(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		sum := sha256.Sum256(body)
		if r.Header.Get("X-Amz-Content-Sha256") != hex.EncodeToString(sum[:]) {
			http.Error(w, `{"message":"payload hash mismatch"}`, http.StatusForbidden)
			return
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "AWS4-HMAC-SHA256 ") || r.Header.Get("X-Api-Key") != "" {
			http.Error(w, `{"message":"bad auth"}`, http.StatusForbidden)
			return
		}

		switch r.URL.Path {
		case "/model/" + testModel + "/invoke-with-response-stream":
			w.Header().Set("Content-Type", EventStreamContentType)
			w.Header().Set("X-Amzn-Bedrock-Content-Type", "application/json")
			for _, ev := range streamEvents {
				if err := encodeFrame(w, ev); err != nil {
					return
				}
			}
		case "/model/" + testModel + "/invoke":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":"msg_bdrk_2","type":"message","role":"assistant","model":"claude-3-5-sonnet-20241022",`+
				`"content":[{"type":"text","text":"plain"}],"stop_reason":"end_turn","stop_sequence":null,`+
				`"usage":{"input_tokens":3,"output_tokens":1}}`)
		default:
			w.Header().Set("X-Amzn-ErrorType", "ValidationException:http://internal.amazon.com/coral/com.amazon.bedrock/")
			w.Header().Set("X-Amzn-RequestId", "req-404")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"message":"The provided model identifier is invalid."}`)
		}
	}))
}

func encodeFrame(w io.Writer, event string) error {
	return eventstream.Encode(w, chunkFrame(event))
}

func newTestClient(t *testing.T, srv *httptest.Server) *client.Client {
	t.Helper()
	return client.New(
		client.WithBaseURL(srv.URL),
		client.WithTransport(NewTransport(testAuth(t), WithBase(srv.Client().Transport))),
		client.WithProvider("bedrock"),
	)
}

func TestClientStreamsThroughBedrock(t *testing.T) {
	srv := fakeBedrock(t)
	defer srv.Close()

	req := &anthropic.MessageRequest{
		Model:     testModel,
		MaxTokens: 64,
		Messages:  []anthropic.InputMessage{anthropic.NewUserMessage("Hi")},
	}
	msg, err := newTestClient(t, srv).CreateMessageStreamed(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "msg_bdrk_1", msg.ID)
	assert.Equal(t, "Hello from Bedrock", msg.Text())
	require.NotNil(t, msg.StopReason)
	assert.Equal(t, "end_turn", *msg.StopReason)
	assert.Equal(t, 12, msg.Usage.InputTokens)
	assert.Equal(t, 6, msg.Usage.OutputTokens)
}

func TestClientNonStreamingThroughBedrock(t *testing.T) {
	srv := fakeBedrock(t)
	defer srv.Close()

	msg, err := newTestClient(t, srv).CreateMessage(context.Background(), &anthropic.MessageRequest{
		Model:     testModel,
		MaxTokens: 8,
		Messages:  []anthropic.InputMessage{anthropic.NewUserMessage("Hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "plain", msg.Text())
}

func TestClientBedrockError(t *testing.T) {
	srv := fakeBedrock(t)
	defer srv.Close()

	_, err := newTestClient(t, srv).CreateMessage(context.Background(), &anthropic.MessageRequest{
		Model:     "unknown-model",
		MaxTokens: 8,
		Messages:  []anthropic.InputMessage{anthropic.NewUserMessage("Hi")},
	})

	var apiErr *anthropic.APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "ValidationException", apiErr.Type)
	assert.Equal(t, "The provided model identifier is invalid.", apiErr.Message)
	assert.Equal(t, "req-404", apiErr.RequestID)
}

func TestNewClientUsesRegionalEndpoint(t *testing.T) {
	assert.Equal(t, "https://bedrock-runtime.us-east-1.amazonaws.com", BaseURL("us-east-1"))
	assert.Equal(t, "bedrock", NewClient(testAuth(t)).Provider())
}
