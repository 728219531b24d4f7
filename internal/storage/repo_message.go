package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/namikmesic/claude-client/internal/anthropic"
)

const (
	StatusComplete   = "complete"
	StatusIncomplete = "incomplete"
	StatusFailed     = "failed"
)

// MessageRecord is one row of the messages table: a finished call, streamed
// or not.
type MessageRecord struct {
	RequestID    uuid.UUID
	Timestamp    time.Time
	Provider     string
	MessageID    string
	Model        string
	IsStream     bool
	Status       string
	ErrorMessage string
	StopReason   *string
	StopSequence *string
	Text         *string
	Thinking     *string
	Citations    []anthropic.Citation
	Usage        anthropic.Usage
	DurationMs   int
}

func InsertMessageJob(r *MessageRecord) WriteJob {
	return WriteJobFunc(func(ctx context.Context, db DB) error {
		citations, err := citationsJSON(r.Citations)
		if err != nil {
			return err
		}
		_, err = db.Exec(ctx, `
			INSERT INTO messages (
				request_id, ts, provider, message_id, model, is_stream, status, error_message,
				stop_reason, stop_sequence, text, thinking, citations,
				input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens,
				total_tokens, duration_ms
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
			r.RequestID, r.Timestamp, r.Provider, nilIfEmpty(r.MessageID), nilIfEmpty(r.Model),
			r.IsStream, r.Status, nilIfEmpty(r.ErrorMessage),
			r.StopReason, r.StopSequence, r.Text, r.Thinking, citations,
			r.Usage.InputTokens, r.Usage.OutputTokens, r.Usage.CacheReadInputTokens,
			r.Usage.CacheCreationInputTokens, r.Usage.Total(), r.DurationMs,
		)
		if err != nil {
			return fmt.Errorf("insert message %s: %w", r.RequestID, err)
		}
		return nil
	})
}

// citationsJSON keeps the nil/empty distinction: nil is stored as NULL.
func citationsJSON(c []anthropic.Citation) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode citations: %w", err)
	}
	return b, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
