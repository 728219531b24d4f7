package stream

import (
	"encoding/json"

	"github.com/namikmesic/claude-client/internal/anthropic"
)

// SSEEvent represents a single parsed SSE event from the stream.
type SSEEvent struct {
	Index     int    // ordinal within this request's stream
	EventType string // message_start, content_block_delta, message_delta, etc.
	RawData   string // raw JSON string from the data: line(s)
	RawBytes  int    // byte length of this SSE frame
}

type EventType string

const (
	EventMessageStart      EventType = "message_start"
	EventMessageDelta      EventType = "message_delta"
	EventMessageStop       EventType = "message_stop"
	EventContentBlockStart EventType = "content_block_start"
	EventContentBlockDelta EventType = "content_block_delta"
	EventContentBlockStop  EventType = "content_block_stop"
	EventPing              EventType = "ping"
	EventError             EventType = "error"
)

// Event is one typed streaming event. The set of implementations is closed;
// consumers type-switch over the variants below.
type Event interface {
	Type() EventType
	event()
}

type MessageStart struct {
	Message anthropic.Message `json:"message"`
}

type MessageDelta struct {
	Delta MessageDeltaBody `json:"delta"`
	Usage *UsageDelta      `json:"usage,omitempty"`
}

type MessageDeltaBody struct {
	StopReason   *string `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

// UsageDelta only carries the counters present on the wire.
type UsageDelta struct {
	InputTokens              *int `json:"input_tokens,omitempty"`
	OutputTokens             *int `json:"output_tokens,omitempty"`
	CacheCreationInputTokens *int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     *int `json:"cache_read_input_tokens,omitempty"`
}

type MessageStop struct{}

type ContentBlockStart struct {
	Index int                     `json:"index"`
	Block *anthropic.ContentBlock `json:"content_block"`
}

type ContentBlockDelta struct {
	Index int
	Delta Delta
}

type ContentBlockStop struct {
	Index int `json:"index"`
}

type Ping struct{}

type Error struct {
	Payload ErrorPayload    `json:"error"`
	Raw     json.RawMessage `json:"-"`
}

type ErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (MessageStart) Type() EventType      { return EventMessageStart }
func (MessageDelta) Type() EventType      { return EventMessageDelta }
func (MessageStop) Type() EventType       { return EventMessageStop }
func (ContentBlockStart) Type() EventType { return EventContentBlockStart }
func (ContentBlockDelta) Type() EventType { return EventContentBlockDelta }
func (ContentBlockStop) Type() EventType  { return EventContentBlockStop }
func (Ping) Type() EventType              { return EventPing }
func (Error) Type() EventType             { return EventError }

func (MessageStart) event()      {}
func (MessageDelta) event()      {}
func (MessageStop) event()       {}
func (ContentBlockStart) event() {}
func (ContentBlockDelta) event() {}
func (ContentBlockStop) event()  {}
func (Ping) event()              {}
func (Error) event()             {}

type DeltaType string

const (
	DeltaText      DeltaType = "text_delta"
	DeltaThinking  DeltaType = "thinking_delta"
	DeltaSignature DeltaType = "signature_delta"
	DeltaCitations DeltaType = "citations_delta"
	DeltaInputJSON DeltaType = "input_json_delta"
)

// Delta is an incremental update to one content block. Closed like Event.
type Delta interface {
	DeltaType() DeltaType
	delta()
}

type TextDelta struct{ Text string }

type ThinkingDelta struct{ Thinking string }

type SignatureDelta struct{ Signature string }

type CitationsDelta struct{ Citation anthropic.Citation }

// InputJSONDelta is a fragment of a tool call's input. Fragments are only
// valid JSON once concatenated.
type InputJSONDelta struct{ PartialJSON string }

func (TextDelta) DeltaType() DeltaType      { return DeltaText }
func (ThinkingDelta) DeltaType() DeltaType  { return DeltaThinking }
func (SignatureDelta) DeltaType() DeltaType { return DeltaSignature }
func (CitationsDelta) DeltaType() DeltaType { return DeltaCitations }
func (InputJSONDelta) DeltaType() DeltaType { return DeltaInputJSON }

func (TextDelta) delta()      {}
func (ThinkingDelta) delta()  {}
func (SignatureDelta) delta() {}
func (CitationsDelta) delta() {}
func (InputJSONDelta) delta() {}
