package jetstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	nats "github.com/nats-io/nats.go"
)

// Publisher is satisfied by nats.JetStreamContext.
type Publisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

var errMirrorClosed = errors.New("mirror closed")

// Mirror publishes the raw bytes of one response stream, chunk by chunk in
// read order, followed by a done marker on Close.
type Mirror struct {
	pub       Publisher
	requestID string
	started   time.Time
	chunks    int
	bytes     int64
	closed    bool
}

func NewMirror(pub Publisher, requestID string) *Mirror {
	return &Mirror{pub: pub, requestID: requestID, started: time.Now()}
}

func (m *Mirror) Write(p []byte) (int, error) {
	if m.closed {
		return 0, errMirrorClosed
	}
	if _, err := m.pub.Publish(ChunkSubject(m.requestID), p); err != nil {
		return 0, fmt.Errorf("publish chunk %d of %s: %w", m.chunks, m.requestID, err)
	}
	m.chunks++
	m.bytes += int64(len(p))
	return len(p), nil
}

func (m *Mirror) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	done, err := json.Marshal(Done{StartedUnixNano: m.started.UnixNano(), Chunks: m.chunks, Bytes: m.bytes})
	if err != nil {
		return err
	}
	if _, err := m.pub.Publish(DoneSubject(m.requestID), done); err != nil {
		return fmt.Errorf("publish done of %s: %w", m.requestID, err)
	}
	return nil
}

// Factory builds one Mirror per request; it plugs into client.WithMirror.
func Factory(pub Publisher) func(requestID string) io.Writer {
	return func(requestID string) io.Writer {
		return NewMirror(pub, requestID)
	}
}
