package bedrock

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/namikmesic/claude-client/internal/eventstream"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Transcoder turns a Bedrock eventstream body into server-sent events. It is
// lazy: a frame is decoded only when the reader has drained the previous
// one, and nothing is read ahead.
//
// Each event frame carries {"bytes":"<base64 JSON event>"}; the event is
// written as "event: <type>\ndata: <json>\n\n". Frames whose payload does not
// have that shape are skipped. Exception frames become an "error" event.
type Transcoder struct {
	body   io.ReadCloser
	frames *eventstream.Decoder
	buf    bytes.Buffer
	err    error

	skipped   int
	closeOnce sync.Once
	closeErr  error
}

func NewTranscoder(body io.ReadCloser) *Transcoder {
	return &Transcoder{body: body, frames: eventstream.NewDecoder(body)}
}

func (t *Transcoder) Read(p []byte) (int, error) {
	for t.buf.Len() == 0 {
		if t.err != nil {
			return 0, t.err
		}
		frame, err := t.frames.Next()
		if err != nil {
			t.err = err
			continue
		}
		t.writeFrame(frame)
	}
	return t.buf.Read(p)
}

// Skipped counts frames dropped because their payload could not be decoded.
func (t *Transcoder) Skipped() int { return t.skipped }

func (t *Transcoder) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.body.Close()
	})
	return t.closeErr
}

func (t *Transcoder) writeFrame(f eventstream.Frame) {
	switch f.Headers[eventstream.HeaderMessageType] {
	case eventstream.MessageTypeException, eventstream.MessageTypeError:
		data, err := exceptionEvent(f)
		if err != nil {
			t.skipped++
			log.Debug().Err(err).
				Str("exception_type", f.Headers[eventstream.HeaderExceptionType]).
				Msg("skipping unrenderable bedrock exception frame")
			return
		}
		writeEvent(&t.buf, "error", data)
		return
	}

	eventType, data, ok := decodeChunk(f.Payload)
	if !ok {
		t.skipped++
		log.Debug().
			Str("event_type", f.Headers[eventstream.HeaderEventType]).
			Int("payload_bytes", len(f.Payload)).
			Msg("skipping undecodable bedrock frame")
		return
	}
	writeEvent(&t.buf, eventType, data)
}

func decodeChunk(payload []byte) (string, []byte, bool) {
	if !gjson.ValidBytes(payload) {
		return "", nil, false
	}
	encoded := gjson.GetBytes(payload, "bytes")
	if encoded.Type != gjson.String {
		return "", nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(encoded.Str)
	if err != nil || !gjson.ValidBytes(raw) {
		return "", nil, false
	}
	typ := gjson.GetBytes(raw, "type")
	if typ.Type != gjson.String || typ.Str == "" {
		return "", nil, false
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return "", nil, false
	}
	return typ.Str, compact.Bytes(), true
}

// exceptionEvent renders an exception frame in the direct API's error event
// shape so the stream layer handles both the same way.
func exceptionEvent(f eventstream.Frame) ([]byte, error) {
	errType := firstNonEmpty(
		f.Headers[eventstream.HeaderExceptionType],
		f.Headers[eventstream.HeaderErrorCode],
		"api_error",
	)
	message := firstNonEmpty(
		gjson.GetBytes(f.Payload, "message").String(),
		gjson.GetBytes(f.Payload, "Message").String(),
		f.Headers[eventstream.HeaderErrorMessage],
		string(bytes.TrimSpace(f.Payload)),
	)

	data, err := sjson.SetBytes([]byte(`{"type":"error"}`), "error.type", errType)
	if err != nil {
		return nil, fmt.Errorf("set error type: %w", err)
	}
	data, err = sjson.SetBytes(data, "error.message", message)
	if err != nil {
		return nil, fmt.Errorf("set error message: %w", err)
	}
	return data, nil
}

func writeEvent(w *bytes.Buffer, eventType string, data []byte) {
	w.WriteString("event: ")
	w.WriteString(eventType)
	w.WriteString("\ndata: ")
	w.Write(data)
	w.WriteString("\n\n")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
