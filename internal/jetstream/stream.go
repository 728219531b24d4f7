package jetstream

import (
	"errors"
	"fmt"
	"strings"
	"time"

	nats "github.com/nats-io/nats.go"
)

const (
	StreamName    = "CLAUDE_STREAMS"
	SubjectPrefix = "claude.stream."

	KindChunk = "chunk"
	KindDone  = "done"
)

func EnsureStream(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ">"},
		Storage:   nats.FileStorage,
		MaxAge:    24 * time.Hour,
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) && !strings.Contains(err.Error(), "already") {
		return fmt.Errorf("add stream %s: %w", StreamName, err)
	}
	return nil
}

func ChunkSubject(requestID string) string {
	return SubjectPrefix + requestID + "." + KindChunk
}

func DoneSubject(requestID string) string {
	return SubjectPrefix + requestID + "." + KindDone
}

// ParseSubject splits "claude.stream.<request id>.<kind>".
func ParseSubject(subject string) (requestID, kind string, ok bool) {
	rest, found := strings.CutPrefix(subject, SubjectPrefix)
	if !found {
		return "", "", false
	}
	requestID, kind, found = strings.Cut(rest, ".")
	if !found || requestID == "" || strings.Contains(kind, ".") {
		return "", "", false
	}
	if kind != KindChunk && kind != KindDone {
		return "", "", false
	}
	return requestID, kind, true
}

// Done is the payload of the done subject.
type Done struct {
	StartedUnixNano int64 `json:"ts"`
	Chunks          int   `json:"chunks"`
	Bytes           int64 `json:"bytes"`
}
