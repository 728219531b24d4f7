package aggregate

import (
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/namikmesic/claude-client/internal/anthropic"
	"github.com/namikmesic/claude-client/internal/stream"
)

type State int

const (
	StateUninitialized State = iota
	StateStarted
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type blockKind int

const (
	kindUntyped blockKind = iota
	kindText
	kindThinking
	kindTool
)

func (k blockKind) accepts(d stream.Delta) bool {
	switch d.(type) {
	case stream.TextDelta, stream.CitationsDelta:
		return k == kindText
	case stream.ThinkingDelta, stream.SignatureDelta:
		return k == kindThinking
	case stream.InputJSONDelta:
		return k == kindTool
	}
	return false
}

func kindOf(d stream.Delta) blockKind {
	switch d.(type) {
	case stream.TextDelta, stream.CitationsDelta:
		return kindText
	case stream.ThinkingDelta, stream.SignatureDelta:
		return kindThinking
	case stream.InputJSONDelta:
		return kindTool
	}
	return kindUntyped
}

// block accumulates one content block between its start and stop events.
type block struct {
	kind      blockKind
	content   anthropic.ContentBlock
	text      strings.Builder
	thinking  strings.Builder
	signature strings.Builder
	input     strings.Builder
}

// Aggregator folds streaming events into one message. It is owned by a
// single pipeline and is readable at any point; it is complete only once
// State() is StateStopped.
type Aggregator struct {
	state     State
	err       error
	lastEvent stream.EventType

	id           string
	model        string
	role         string
	stopReason   *string
	stopSequence *string
	usage        *anthropic.Usage

	text      *strings.Builder
	thinking  *strings.Builder
	citations []anthropic.Citation
	toolInput map[int]*strings.Builder

	open    map[int]*block
	content []*block
}

func New() *Aggregator {
	return &Aggregator{
		toolInput: make(map[int]*strings.Builder),
		open:      make(map[int]*block),
	}
}

// Collect folds every event of seq and then checks for completion. The
// returned aggregator reflects whatever was folded, even on error.
func Collect(seq iter.Seq2[stream.Event, error]) (*Aggregator, error) {
	a := New()
	for ev, err := range seq {
		if err != nil {
			a.fail(err)
			return a, err
		}
		if err := a.Add(ev); err != nil {
			return a, err
		}
	}
	return a, a.Finish()
}

// Add folds one event. After the first failure every call returns that
// failure.
func (a *Aggregator) Add(ev stream.Event) error {
	if a.err != nil {
		return a.err
	}
	if _, ok := ev.(stream.Ping); ok {
		return nil
	}
	if a.state == StateStopped {
		return a.violation(ev.Type(), "event after message_stop")
	}

	var err error
	switch e := ev.(type) {
	case stream.MessageStart:
		err = a.messageStart(e)
	case stream.MessageDelta:
		err = a.messageDelta(e)
	case stream.MessageStop:
		err = a.messageStop()
	case stream.ContentBlockStart:
		err = a.blockStart(e)
	case stream.ContentBlockDelta:
		err = a.blockDelta(e)
	case stream.ContentBlockStop:
		err = a.blockStop(e)
	case stream.Error:
		err = &anthropic.StreamError{Type: e.Payload.Type, Message: e.Payload.Message, Raw: e.Raw}
	default:
		err = a.violation(stream.EventType(fmt.Sprintf("%T", ev)), "unsupported event")
	}
	if err != nil {
		a.fail(err)
		return err
	}
	a.lastEvent = ev.Type()
	return nil
}

// Finish reports whether the folded sequence was complete.
func (a *Aggregator) Finish() error {
	if a.err != nil {
		return a.err
	}
	if a.state != StateStopped {
		err := &anthropic.IncompleteStreamError{LastEvent: string(a.lastEvent)}
		a.fail(err)
		return err
	}
	return nil
}

func (a *Aggregator) messageStart(e stream.MessageStart) error {
	if a.state != StateUninitialized {
		return a.violation(e.Type(), "message already started")
	}
	a.state = StateStarted

	msg := e.Message
	a.id = msg.ID
	a.model = msg.Model
	a.role = msg.Role
	a.stopReason = msg.StopReason
	a.stopSequence = msg.StopSequence
	usage := msg.Usage
	a.usage = &usage
	a.citations = []anthropic.Citation{}
	return nil
}

func (a *Aggregator) messageDelta(e stream.MessageDelta) error {
	if a.state != StateStarted {
		return a.violation(e.Type(), "message not started")
	}
	if e.Delta.StopReason != nil {
		a.stopReason = e.Delta.StopReason
	}
	if e.Delta.StopSequence != nil {
		a.stopSequence = e.Delta.StopSequence
	}
	if u := e.Usage; u != nil {
		if a.usage == nil {
			a.usage = &anthropic.Usage{}
		}
		mergeInt(&a.usage.InputTokens, u.InputTokens)
		mergeInt(&a.usage.OutputTokens, u.OutputTokens)
		mergeInt(&a.usage.CacheCreationInputTokens, u.CacheCreationInputTokens)
		mergeInt(&a.usage.CacheReadInputTokens, u.CacheReadInputTokens)
	}
	return nil
}

func (a *Aggregator) messageStop() error {
	if a.state != StateStarted {
		return a.violation(stream.EventMessageStop, "message not started")
	}
	if len(a.open) > 0 {
		return a.violation(stream.EventMessageStop, fmt.Sprintf("%d content block(s) still open", len(a.open)))
	}
	a.state = StateStopped
	return nil
}

func (a *Aggregator) blockStart(e stream.ContentBlockStart) error {
	if a.state != StateStarted {
		return a.violation(e.Type(), "message not started")
	}
	if _, ok := a.open[e.Index]; ok {
		return a.violation(e.Type(), fmt.Sprintf("block %d is already open", e.Index))
	}

	b := &block{}
	if e.Block != nil {
		b.content = *e.Block
		switch e.Block.Type {
		case anthropic.BlockText:
			b.kind = kindText
		case anthropic.BlockThinking, anthropic.BlockRedactedThinking:
			b.kind = kindThinking
		case anthropic.BlockToolUse, anthropic.BlockServerToolUse:
			b.kind = kindTool
		}
		b.content.Citations = nil
		b.content.Text = ""
		b.content.Thinking = ""
		b.content.Signature = ""
	}
	a.open[e.Index] = b
	a.content = append(a.content, b)
	// A reused index starts a new tool input.
	delete(a.toolInput, e.Index)

	// Text a start block already carries counts as its first delta.
	if e.Block != nil {
		if e.Block.Text != "" {
			a.appendText(b, e.Block.Text)
		}
		if e.Block.Thinking != "" {
			a.appendThinking(b, e.Block.Thinking)
		}
		if e.Block.Signature != "" {
			b.signature.WriteString(e.Block.Signature)
		}
		for _, c := range e.Block.Citations {
			a.citations = append(a.citations, c)
			b.content.Citations = append(b.content.Citations, c)
		}
	}
	return nil
}

func (a *Aggregator) blockDelta(e stream.ContentBlockDelta) error {
	if a.state != StateStarted {
		return a.violation(e.Type(), "message not started")
	}
	b, ok := a.open[e.Index]
	if !ok {
		return a.violation(e.Type(), fmt.Sprintf("block %d is not open", e.Index))
	}
	if e.Delta == nil {
		return a.violation(e.Type(), fmt.Sprintf("block %d: missing delta", e.Index))
	}
	if b.kind == kindUntyped {
		b.kind = kindOf(e.Delta)
	}
	if !b.kind.accepts(e.Delta) {
		return a.violation(e.Type(), fmt.Sprintf("block %d: %s does not match the block's kind", e.Index, e.Delta.DeltaType()))
	}

	switch d := e.Delta.(type) {
	case stream.TextDelta:
		a.appendText(b, d.Text)
	case stream.ThinkingDelta:
		a.appendThinking(b, d.Thinking)
	case stream.SignatureDelta:
		b.signature.WriteString(d.Signature)
	case stream.CitationsDelta:
		a.citations = append(a.citations, d.Citation)
		b.content.Citations = append(b.content.Citations, d.Citation)
	case stream.InputJSONDelta:
		buf, ok := a.toolInput[e.Index]
		if !ok {
			buf = &strings.Builder{}
			a.toolInput[e.Index] = buf
		}
		buf.WriteString(d.PartialJSON)
		b.input.WriteString(d.PartialJSON)
	default:
		return a.violation(e.Type(), fmt.Sprintf("unsupported delta %T", e.Delta))
	}
	return nil
}

func (a *Aggregator) blockStop(e stream.ContentBlockStop) error {
	if a.state != StateStarted {
		return a.violation(e.Type(), "message not started")
	}
	if _, ok := a.open[e.Index]; !ok {
		return a.violation(e.Type(), fmt.Sprintf("block %d is not open", e.Index))
	}
	delete(a.open, e.Index)
	return nil
}

func (a *Aggregator) appendText(b *block, s string) {
	if a.text == nil {
		a.text = &strings.Builder{}
	}
	a.text.WriteString(s)
	b.text.WriteString(s)
}

func (a *Aggregator) appendThinking(b *block, s string) {
	if a.thinking == nil {
		a.thinking = &strings.Builder{}
	}
	a.thinking.WriteString(s)
	b.thinking.WriteString(s)
}

func (a *Aggregator) violation(event stream.EventType, reason string) error {
	return &anthropic.ProtocolViolationError{Event: string(event), Reason: reason}
}

func (a *Aggregator) fail(err error) {
	a.state = StateFailed
	a.err = err
}

func mergeInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func (a *Aggregator) State() State                   { return a.state }
func (a *Aggregator) Err() error                     { return a.err }
func (a *Aggregator) ID() string                     { return a.id }
func (a *Aggregator) Model() string                  { return a.model }
func (a *Aggregator) StopReason() *string            { return a.stopReason }
func (a *Aggregator) StopSequence() *string          { return a.stopSequence }
func (a *Aggregator) Usage() *anthropic.Usage        { return a.usage }
func (a *Aggregator) Citations() []anthropic.Citation { return a.citations }

// Text is nil until the first text delta.
func (a *Aggregator) Text() *string {
	if a.text == nil {
		return nil
	}
	s := a.text.String()
	return &s
}

// Thinking is nil until the first thinking delta.
func (a *Aggregator) Thinking() *string {
	if a.thinking == nil {
		return nil
	}
	s := a.thinking.String()
	return &s
}

// ToolInput returns the concatenated partial JSON for the block at index.
// It is not parsed or validated.
func (a *Aggregator) ToolInput(index int) (string, bool) {
	buf, ok := a.toolInput[index]
	if !ok {
		return "", false
	}
	return buf.String(), true
}

// Message renders the aggregate in the shape the non-streaming call returns.
func (a *Aggregator) Message() *anthropic.Message {
	msg := &anthropic.Message{
		ID:           a.id,
		Type:         "message",
		Role:         a.role,
		Model:        a.model,
		StopReason:   a.stopReason,
		StopSequence: a.stopSequence,
		Content:      make([]anthropic.ContentBlock, 0, len(a.content)),
	}
	if a.usage != nil {
		msg.Usage = *a.usage
	}

	for _, b := range a.content {
		cb := b.content
		switch b.kind {
		case kindText:
			if cb.Type == "" {
				cb.Type = anthropic.BlockText
			}
			cb.Text = b.text.String()
		case kindThinking:
			if cb.Type == "" {
				cb.Type = anthropic.BlockThinking
			}
			cb.Thinking = b.thinking.String()
			cb.Signature = b.signature.String()
		case kindTool:
			if cb.Type == "" {
				cb.Type = anthropic.BlockToolUse
			}
			if b.input.Len() > 0 {
				cb.Input = json.RawMessage(b.input.String())
			}
		}
		msg.Content = append(msg.Content, cb)
	}
	return msg
}
