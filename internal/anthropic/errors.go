package anthropic

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// AuthenticationError reports missing or malformed credentials. Static
// credentials are validated when they are constructed.
type AuthenticationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	msg := "authentication error: " + e.Reason
	if e.Field != "" {
		msg = fmt.Sprintf("authentication error: %s: %s", e.Field, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// InvalidRequestError reports a request or response shape the transport
// cannot handle, such as an unsupported endpoint.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request: " + e.Reason
}

// FrameCorruptionError is fatal for the whole binary stream.
type FrameCorruptionError struct {
	Offset int64 // byte offset of the frame that failed
	Err    error
}

func (e *FrameCorruptionError) Error() string {
	return fmt.Sprintf("corrupt event stream frame at offset %d: %v", e.Offset, e.Err)
}

func (e *FrameCorruptionError) Unwrap() error { return e.Err }

// IncompleteStreamError means the source ended before message_stop.
type IncompleteStreamError struct {
	LastEvent string
}

func (e *IncompleteStreamError) Error() string {
	if e.LastEvent == "" {
		return "incomplete stream: no events received"
	}
	return fmt.Sprintf("incomplete stream: ended after %s without message_stop", e.LastEvent)
}

// ProtocolViolationError reports an event that is not valid in the current
// aggregation state.
type ProtocolViolationError struct {
	Event  string
	Reason string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation on %s: %s", e.Event, e.Reason)
}

// StreamError carries the payload of an "error" event received mid-stream.
type StreamError struct {
	Type    string
	Message string
	Raw     json.RawMessage
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error: %s: %s", e.Type, e.Message)
}

// APIError is a non-2xx response from the Messages endpoint or a provider in
// front of it.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("api error %d (%s): %s [request_id=%s]", e.StatusCode, e.Type, e.Message, e.RequestID)
	}
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Type, e.Message)
}

// ParseAPIError decodes an error body. It understands the Anthropic envelope
// ({"type":"error","error":{...}}) and the Bedrock shape ({"message":...}
// plus the x-amzn-ErrorType header).
func ParseAPIError(statusCode int, header http.Header, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode, RequestID: header.Get("request-id")}
	if apiErr.RequestID == "" {
		apiErr.RequestID = header.Get("x-amzn-RequestId")
	}

	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Type = envelope.Error.Type
		apiErr.Message = envelope.Error.Message
		if apiErr.Message == "" {
			apiErr.Message = envelope.Message
		}
	}

	if apiErr.Type == "" {
		// x-amzn-ErrorType looks like "ValidationException:http://internal.amazon.com/..."
		if t := header.Get("x-amzn-ErrorType"); t != "" {
			apiErr.Type, _, _ = strings.Cut(t, ":")
		} else {
			apiErr.Type = http.StatusText(statusCode)
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
