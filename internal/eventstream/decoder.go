package eventstream

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"sort"

	awsevents "github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	"github.com/namikmesic/claude-client/internal/anthropic"
)

const (
	HeaderMessageType   = ":message-type"
	HeaderEventType     = ":event-type"
	HeaderContentType   = ":content-type"
	HeaderExceptionType = ":exception-type"
	HeaderErrorCode     = ":error-code"
	HeaderErrorMessage  = ":error-message"

	MessageTypeEvent     = "event"
	MessageTypeException = "exception"
	MessageTypeError     = "error"
)

// Frame is one decoded binary message. Checksums are verified and dropped.
type Frame struct {
	Headers map[string]string
	Payload []byte
}

// Decoder reads frames from a byte stream one at a time. It is not
// restartable: after any error other than io.EOF at a frame boundary every
// later call returns the same error.
type Decoder struct {
	src *countingReader
	dec *awsevents.Decoder
	err error
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		src: &countingReader{r: r},
		dec: awsevents.NewDecoder(),
	}
}

// Next returns the next frame, io.EOF once the stream ends cleanly between
// frames, a *anthropic.FrameCorruptionError for checksum or length
// violations, or the wrapped error of the underlying reader.
func (d *Decoder) Next() (Frame, error) {
	if d.err != nil {
		return Frame{}, d.err
	}

	start := d.src.n
	msg, err := d.dec.Decode(d.src, nil)
	if err != nil {
		d.err = d.classify(err, start)
		return Frame{}, d.err
	}
	return frameFromMessage(msg), nil
}

// All yields the remaining frames. A failure is yielded once and ends the
// sequence.
func (d *Decoder) All() iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for {
			f, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Frame{}, err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

// Frames is shorthand for NewDecoder(r).All().
func Frames(r io.Reader) iter.Seq2[Frame, error] {
	return NewDecoder(r).All()
}

func (d *Decoder) classify(err error, start int64) error {
	if d.src.err != nil && errors.Is(err, d.src.err) {
		return fmt.Errorf("read event stream: %w", err)
	}
	// EOF is only clean when no byte of a new frame was consumed.
	if errors.Is(err, io.EOF) && d.src.n == start {
		return io.EOF
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return &anthropic.FrameCorruptionError{Offset: start, Err: err}
}

func frameFromMessage(msg awsevents.Message) Frame {
	f := Frame{
		Headers: make(map[string]string, len(msg.Headers)),
		Payload: msg.Payload,
	}
	for _, h := range msg.Headers {
		if s, ok := h.Value.(awsevents.StringValue); ok {
			f.Headers[h.Name] = string(s)
			continue
		}
		f.Headers[h.Name] = h.Value.String()
	}
	return f
}

// Encode writes f as one binary frame with string-typed headers.
func Encode(w io.Writer, f Frame) error {
	names := make([]string, 0, len(f.Headers))
	for name := range f.Headers {
		names = append(names, name)
	}
	sort.Strings(names)

	msg := awsevents.Message{Payload: f.Payload}
	for _, name := range names {
		msg.Headers.Set(name, awsevents.StringValue(f.Headers[name]))
	}
	return awsevents.NewEncoder().Encode(w, msg)
}

// countingReader tracks how many bytes the decoder pulled and remembers the
// first non-EOF error of the underlying reader.
type countingReader struct {
	r   io.Reader
	n   int64
	err error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err != nil && !errors.Is(err, io.EOF) && c.err == nil {
		c.err = err
	}
	return n, err
}
