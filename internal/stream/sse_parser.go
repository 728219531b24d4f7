package stream

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// Reader pulls SSE events off a byte stream one at a time. Only the current
// event's lines are buffered.
type Reader struct {
	br         *bufio.Reader
	eventIndex int

	eventType string // current event: field value
	data      []string
	rawBytes  int
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 32*1024)}
}

// Next returns the next complete event, or io.EOF when the stream ends.
// A trailing event without its blank separator line is still delivered.
func (p *Reader) Next() (SSEEvent, error) {
	for {
		line, err := p.br.ReadString('\n')
		if line != "" {
			if ev, ok := p.consume(line); ok {
				return ev, nil
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if ev, ok := p.dispatch(); ok {
				return ev, nil
			}
		}
		return SSEEvent{}, err
	}
}

func (p *Reader) consume(line string) (SSEEvent, bool) {
	p.rawBytes += len(line)
	line = strings.TrimRight(line, "\r\n")

	if line == "" {
		// Empty line = event separator
		return p.dispatch()
	}
	if strings.HasPrefix(line, ":") {
		return SSEEvent{}, false
	}

	field, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")

	switch field {
	case "event":
		p.eventType = strings.TrimSpace(value)
	case "data":
		p.data = append(p.data, value)
	}
	return SSEEvent{}, false
}

func (p *Reader) dispatch() (SSEEvent, bool) {
	defer p.reset()
	if len(p.data) == 0 {
		return SSEEvent{}, false
	}

	dataStr := strings.Join(p.data, "\n")
	p.eventIndex++

	eventType := p.eventType
	if eventType == "" {
		eventType = inferEventType(dataStr)
	}

	return SSEEvent{
		Index:     p.eventIndex,
		EventType: eventType,
		RawData:   dataStr,
		RawBytes:  p.rawBytes,
	}, true
}

func (p *Reader) reset() {
	p.eventType = ""
	p.data = p.data[:0]
	p.rawBytes = 0
}

// inferEventType reads the "type" field when the event: line is missing.
func inferEventType(data string) string {
	if t := gjson.Get(data, "type"); t.Type == gjson.String && t.Str != "" {
		return t.Str
	}
	return "unknown"
}
