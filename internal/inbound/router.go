// Package inbound filters raw inbound batches down to private text messages
// and hands them to a Sink.
package inbound

import (
	"time"

	"github.com/danmuck/wagate/internal/address"
	"github.com/danmuck/wagate/internal/observability"
	"github.com/danmuck/wagate/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Message is a normalized inbound message.
type Message struct {
	ID            string
	SenderAddress string
	Text          string
	IsFromSelf    bool
	IsBroadcast   bool
	ReceivedAt    time.Time
}

// Sink consumes routed messages.
type Sink interface {
	Deliver(Message)
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(Message)

func (f SinkFunc) Deliver(m Message) { f(m) }

// LogSink writes each message as a log line.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Deliver(m Message) {
	s.Logger.Info().
		Str("from", "+"+address.Phone(m.SenderAddress)).
		Str("id", m.ID).
		Str("text", m.Text).
		Msg("inbound.message received")
}

// Skip reasons.
const (
	decisionRouted    = "routed"
	decisionFromSelf  = "skipped_from_self"
	decisionBroadcast = "skipped_broadcast"
	decisionNotDirect = "skipped_not_private"
	decisionNoText    = "skipped_no_text"
)

// Router applies the filter to each batch in order.
type Router struct {
	sink Sink
	now  func() time.Time
}

func NewRouter(sink Sink) *Router {
	if sink == nil {
		sink = LogSink{Logger: log.Logger}
	}
	return &Router{sink: sink, now: time.Now}
}

// Route delivers every routable message of batch, preserving order, and
// returns how many were delivered.
func (r *Router) Route(batch []transport.RawMessage) int {
	routed := 0
	for _, raw := range batch {
		msg, decision := r.normalize(raw)
		observability.RecordInbound(decision)
		if decision != decisionRouted {
			log.Debug().Str("chat", raw.Chat).Str("id", raw.ID).Str("decision", decision).Msg("inbound.Router skip")
			continue
		}
		r.sink.Deliver(msg)
		routed++
	}
	return routed
}

func (r *Router) normalize(raw transport.RawMessage) (Message, string) {
	if raw.FromSelf {
		return Message{}, decisionFromSelf
	}
	if raw.Chat == address.StatusBroadcast || address.IsBroadcast(raw.Chat) {
		return Message{}, decisionBroadcast
	}
	if !address.IsPrivate(raw.Chat) {
		return Message{}, decisionNotDirect
	}
	text := raw.Conversation
	if text == "" {
		text = raw.ExtendedText
	}
	if text == "" {
		return Message{}, decisionNoText
	}
	return Message{
		ID:            raw.ID,
		SenderAddress: raw.Chat,
		Text:          text,
		ReceivedAt:    r.now(),
	}, decisionRouted
}
