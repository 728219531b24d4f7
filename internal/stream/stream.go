package stream

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
)

// Stream owns one streaming response body. The body is closed exactly once:
// when Events finishes for any reason, or on Close, whichever comes first.
type Stream struct {
	body     io.ReadCloser
	reader   *Reader
	observer func(SSEEvent)

	closeOnce sync.Once
	closeErr  error
}

type Option func(*Stream)

// WithObserver registers a callback that sees every raw SSE event before it
// is decoded.
func WithObserver(fn func(SSEEvent)) Option {
	return func(s *Stream) { s.observer = fn }
}

func NewStream(body io.ReadCloser, opts ...Option) *Stream {
	s := &Stream{body: body, reader: NewReader(body)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events yields typed events in wire order. The sequence is single use.
// A read or decode failure is yielded once and ends the sequence.
func (s *Stream) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		defer s.Close()

		for {
			raw, err := s.reader.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("read event stream: %w", err))
				return
			}

			if s.observer != nil {
				s.observer(raw)
			}

			ev, err := DecodeEvent(raw)
			if err != nil {
				yield(nil, err)
				return
			}
			if ev == nil {
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
