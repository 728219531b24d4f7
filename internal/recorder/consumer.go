package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/namikmesic/claude-client/internal/aggregate"
	"github.com/namikmesic/claude-client/internal/jetstream"
	"github.com/namikmesic/claude-client/internal/stream"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	consumerName = "recorder"
	fetchBatch   = 64
	fetchWait    = time.Second
)

// Replay parses a complete raw SSE body, aggregates it and records both the
// message and its events.
func (r *Recorder) Replay(requestID uuid.UUID, started time.Time, raw []byte) {
	key := requestID.String()
	s := stream.NewStream(io.NopCloser(bytes.NewReader(raw)), stream.WithObserver(func(ev stream.SSEEvent) {
		r.Observe(key, ev)
	}))
	agg, err := aggregate.Collect(s.Events())
	r.RecordStream(requestID, started, agg, err)
}

// StartConsumer records streams mirrored to JetStream. Chunks are buffered
// per request until the done marker arrives. It returns when ctx ends.
func (r *Recorder) StartConsumer(ctx context.Context, js nats.JetStreamContext) error {
	sub, err := js.PullSubscribe(jetstream.SubjectPrefix+">", consumerName)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", jetstream.StreamName, err)
	}
	defer sub.Unsubscribe()

	pending := make(map[string]*bytes.Buffer)
	for {
		if ctx.Err() != nil {
			return nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, fetchWait)
		msgs, err := sub.Fetch(fetchBatch, nats.Context(fetchCtx))
		cancel()
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			continue
		}
		if err != nil {
			return fmt.Errorf("fetch mirrored chunks: %w", err)
		}

		for _, msg := range msgs {
			r.handleMirrored(pending, msg.Subject, msg.Data)
			if err := msg.Ack(); err != nil {
				log.Warn().Err(err).Str("subject", msg.Subject).Msg("ack failed")
			}
		}
	}
}

func (r *Recorder) handleMirrored(pending map[string]*bytes.Buffer, subject string, data []byte) {
	id, kind, ok := jetstream.ParseSubject(subject)
	if !ok {
		log.Debug().Str("subject", subject).Msg("ignoring unexpected subject")
		return
	}

	switch kind {
	case jetstream.KindChunk:
		buf, found := pending[id]
		if !found {
			buf = &bytes.Buffer{}
			pending[id] = buf
		}
		buf.Write(data)

	case jetstream.KindDone:
		buf := pending[id]
		delete(pending, id)

		requestID, err := uuid.Parse(id)
		if err != nil {
			log.Warn().Err(err).Str("request_id", id).Msg("mirrored stream has invalid request id")
			return
		}
		var done jetstream.Done
		started := time.Now()
		if err := json.Unmarshal(data, &done); err == nil && done.StartedUnixNano > 0 {
			started = time.Unix(0, done.StartedUnixNano)
		}

		var raw []byte
		if buf != nil {
			raw = buf.Bytes()
		}
		r.Replay(requestID, started, raw)
	}
}
