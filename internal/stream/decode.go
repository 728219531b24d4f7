package stream

import (
	"encoding/json"

	"github.com/namikmesic/claude-client/internal/anthropic"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// DecodeEvent turns a raw SSE event into its typed variant. Event and delta
// types this client does not know are skipped with (nil, nil).
func DecodeEvent(raw SSEEvent) (Event, error) {
	switch EventType(raw.EventType) {
	case EventPing:
		return Ping{}, nil
	case EventMessageStop:
		return MessageStop{}, nil
	}

	data := []byte(raw.RawData)
	if !gjson.ValidBytes(data) {
		return nil, &anthropic.ProtocolViolationError{Event: raw.EventType, Reason: "payload is not valid JSON"}
	}

	switch EventType(raw.EventType) {
	case EventMessageStart:
		var ev MessageStart
		return decodeInto(raw.EventType, data, &ev)
	case EventMessageDelta:
		var ev MessageDelta
		return decodeInto(raw.EventType, data, &ev)
	case EventContentBlockStart:
		var ev ContentBlockStart
		return decodeInto(raw.EventType, data, &ev)
	case EventContentBlockStop:
		var ev ContentBlockStop
		return decodeInto(raw.EventType, data, &ev)
	case EventContentBlockDelta:
		return decodeBlockDelta(data)
	case EventError:
		ev := Error{Raw: json.RawMessage(raw.RawData)}
		return decodeInto(raw.EventType, data, &ev)
	default:
		log.Debug().Str("event", raw.EventType).Msg("skipping unknown stream event")
		return nil, nil
	}
}

func decodeInto[T Event](eventType string, data []byte, ev *T) (Event, error) {
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, &anthropic.ProtocolViolationError{Event: eventType, Reason: "decode payload: " + err.Error()}
	}
	return *ev, nil
}

func decodeBlockDelta(data []byte) (Event, error) {
	var wire struct {
		Index int `json:"index"`
		Delta struct {
			Type        DeltaType          `json:"type"`
			Text        string             `json:"text"`
			Thinking    string             `json:"thinking"`
			Signature   string             `json:"signature"`
			PartialJSON string             `json:"partial_json"`
			Citation    anthropic.Citation `json:"citation"`
		} `json:"delta"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &anthropic.ProtocolViolationError{
			Event:  string(EventContentBlockDelta),
			Reason: "decode payload: " + err.Error(),
		}
	}

	ev := ContentBlockDelta{Index: wire.Index}
	switch wire.Delta.Type {
	case DeltaText:
		ev.Delta = TextDelta{Text: wire.Delta.Text}
	case DeltaThinking:
		ev.Delta = ThinkingDelta{Thinking: wire.Delta.Thinking}
	case DeltaSignature:
		ev.Delta = SignatureDelta{Signature: wire.Delta.Signature}
	case DeltaCitations:
		ev.Delta = CitationsDelta{Citation: wire.Delta.Citation}
	case DeltaInputJSON:
		ev.Delta = InputJSONDelta{PartialJSON: wire.Delta.PartialJSON}
	default:
		log.Debug().Str("delta", string(wire.Delta.Type)).Int("index", wire.Index).Msg("skipping unknown delta type")
		return nil, nil
	}
	return ev, nil
}
