package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/namikmesic/claude-client/internal/stream"
)

var streamEventColumns = []string{"ts", "request_id", "event_index", "event_type", "data_json", "raw_bytes"}

// InsertStreamEventsJob stores the raw events of one stream using COPY.
func InsertStreamEventsJob(requestID uuid.UUID, ts time.Time, events []stream.SSEEvent) WriteJob {
	return WriteJobFunc(func(ctx context.Context, db DB) error {
		if len(events) == 0 {
			return nil
		}
		_, err := db.CopyFrom(ctx,
			pgx.Identifier{"stream_events"},
			streamEventColumns,
			pgx.CopyFromRows(streamEventRows(requestID, ts, events)),
		)
		if err != nil {
			return fmt.Errorf("copy %d stream events for %s: %w", len(events), requestID, err)
		}
		return nil
	})
}

func streamEventRows(requestID uuid.UUID, ts time.Time, events []stream.SSEEvent) [][]any {
	rows := make([][]any, len(events))
	for i, ev := range events {
		rows[i] = []any{ts, requestID, ev.Index, ev.EventType, ev.RawData, ev.RawBytes}
	}
	return rows
}
