package recorder

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/namikmesic/claude-client/internal/aggregate"
	"github.com/namikmesic/claude-client/internal/anthropic"
	"github.com/namikmesic/claude-client/internal/storage"
	"github.com/namikmesic/claude-client/internal/stream"
	"github.com/rs/zerolog/log"
)

// Writer accepts write jobs. *storage.BatchWriter is the production one.
type Writer interface {
	Enqueue(job storage.WriteJob) bool
}

// Recorder turns finished calls into storage rows. Raw events arrive through
// Observe while a stream runs and are flushed by RecordStream.
type Recorder struct {
	writer   Writer
	provider string

	mu     sync.Mutex
	events map[string][]stream.SSEEvent

	recorded chan uuid.UUID
}

func New(writer Writer, provider string) *Recorder {
	return &Recorder{
		writer:   writer,
		provider: provider,
		events:   make(map[string][]stream.SSEEvent),
		recorded: make(chan uuid.UUID, 16),
	}
}

// Recorded delivers the request ids of recorded streams. Ids nobody reads
// in time are dropped.
func (r *Recorder) Recorded() <-chan uuid.UUID {
	return r.recorded
}

// Observe buffers one raw event. Its signature matches client.WithObserver.
func (r *Recorder) Observe(requestID string, ev stream.SSEEvent) {
	r.mu.Lock()
	r.events[requestID] = append(r.events[requestID], ev)
	r.mu.Unlock()
}

func (r *Recorder) takeEvents(requestID uuid.UUID) []stream.SSEEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := requestID.String()
	events := r.events[key]
	delete(r.events, key)
	return events
}

// RecordStream stores the aggregate of a stream and its buffered raw
// events. streamErr is whatever ended the stream, nil on success.
func (r *Recorder) RecordStream(requestID uuid.UUID, started time.Time, agg *aggregate.Aggregator, streamErr error) {
	rec := FromAggregate(agg, streamErr)
	rec.RequestID = requestID
	rec.Timestamp = started
	rec.Provider = r.provider
	rec.DurationMs = int(time.Since(started).Milliseconds())
	r.writer.Enqueue(storage.InsertMessageJob(rec))

	events := r.takeEvents(requestID)
	if len(events) > 0 {
		r.writer.Enqueue(storage.InsertStreamEventsJob(requestID, started, events))
	}

	log.Debug().
		Str("request_id", requestID.String()).
		Str("status", rec.Status).
		Int("sse_events", len(events)).
		Str("model", rec.Model).
		Int("input_tokens", rec.Usage.InputTokens).
		Int("output_tokens", rec.Usage.OutputTokens).
		Msg("stream recorded")

	select {
	case r.recorded <- requestID:
	default:
	}
}

// RecordMessage stores a non-streaming call. msg is nil when callErr is set.
func (r *Recorder) RecordMessage(requestID uuid.UUID, started time.Time, msg *anthropic.Message, callErr error) {
	rec := &storage.MessageRecord{
		RequestID:  requestID,
		Timestamp:  started,
		Provider:   r.provider,
		Status:     storage.StatusComplete,
		DurationMs: int(time.Since(started).Milliseconds()),
	}
	if callErr != nil {
		rec.Status = storage.StatusFailed
		rec.ErrorMessage = callErr.Error()
	}
	if msg != nil {
		rec.MessageID = msg.ID
		rec.Model = msg.Model
		rec.StopReason = msg.StopReason
		rec.StopSequence = msg.StopSequence
		rec.Usage = msg.Usage
		if text := msg.Text(); text != "" {
			rec.Text = &text
		}
	}
	r.writer.Enqueue(storage.InsertMessageJob(rec))
}

// FromAggregate maps an aggregate to a row without the request fields.
func FromAggregate(agg *aggregate.Aggregator, streamErr error) *storage.MessageRecord {
	rec := &storage.MessageRecord{
		MessageID:    agg.ID(),
		Model:        agg.Model(),
		IsStream:     true,
		Status:       statusOf(streamErr),
		StopReason:   agg.StopReason(),
		StopSequence: agg.StopSequence(),
		Text:         agg.Text(),
		Thinking:     agg.Thinking(),
		Citations:    agg.Citations(),
	}
	if u := agg.Usage(); u != nil {
		rec.Usage = *u
	}
	if streamErr != nil {
		rec.ErrorMessage = streamErr.Error()
	}
	return rec
}

func statusOf(err error) string {
	var incomplete *anthropic.IncompleteStreamError
	switch {
	case err == nil:
		return storage.StatusComplete
	case errors.As(err, &incomplete):
		return storage.StatusIncomplete
	default:
		return storage.StatusFailed
	}
}
