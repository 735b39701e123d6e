// Package outbound gates sends on the session's readiness and validates
// recipients before anything reaches the transport.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/wagate/internal/address"
	"github.com/danmuck/wagate/internal/observability"
	"github.com/danmuck/wagate/internal/session"
	"github.com/danmuck/wagate/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DefaultSendTimeout = 20 * time.Second

var (
	ErrNotConnected        = errors.New("There is no connection to WhatsApp")
	ErrInvalidAddress      = errors.New("invalid JID format")
	ErrTransportSendFailed = errors.New("send failed")
)

// Kind classifies a SendError.
type Kind int

const (
	NotConnected Kind = iota
	InvalidAddress
	TransportSendFailed
)

func (k Kind) String() string {
	switch k {
	case NotConnected:
		return "not_connected"
	case InvalidAddress:
		return "invalid_address"
	case TransportSendFailed:
		return "transport_send_failed"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case NotConnected:
		return ErrNotConnected
	case InvalidAddress:
		return ErrInvalidAddress
	default:
		return ErrTransportSendFailed
	}
}

// SendError is returned by Gateway.Send. errors.Is matches both the
// kind's sentinel and the underlying cause.
type SendError struct {
	Kind    Kind
	Address string
	Err     error
}

func (e *SendError) Error() string {
	if e.Err == nil {
		if e.Kind == InvalidAddress {
			return fmt.Sprintf("%s: %q", e.Kind.sentinel(), e.Address)
		}
		return e.Kind.sentinel().Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind.sentinel(), e.Err)
}

func (e *SendError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// Sessions is the part of session.Manager the gateway reads.
type Sessions interface {
	Lease() (session.Lease, bool)
	Valid(generation uint64) bool
}

// Request is one outbound message.
type Request struct {
	Address string
	Text    string
}

// Gateway sends text messages over the current session.
type Gateway struct {
	sessions    Sessions
	sendTimeout time.Duration
}

func New(sessions Sessions, sendTimeout time.Duration) *Gateway {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Gateway{sessions: sessions, sendTimeout: sendTimeout}
}

// Send delivers req.Text to req.Address. Failures are not retried.
func (g *Gateway) Send(ctx context.Context, req Request) error {
	started := time.Now()
	err := g.send(ctx, req)
	result := "ok"
	var serr *SendError
	if errors.As(err, &serr) {
		result = serr.Kind.String()
	}
	observability.RecordSend(result, time.Since(started))
	return err
}

func (g *Gateway) send(ctx context.Context, req Request) error {
	lease, ok := g.sessions.Lease()
	if !ok {
		return &SendError{Kind: NotConnected, Address: req.Address}
	}
	if err := address.Validate(req.Address); err != nil {
		return &SendError{Kind: InvalidAddress, Address: req.Address}
	}
	if !g.sessions.Valid(lease.Generation) {
		return &SendError{Kind: NotConnected, Address: req.Address}
	}

	id := uuid.NewString()
	sendCtx, cancel := context.WithTimeout(ctx, g.sendTimeout)
	defer cancel()
	if err := lease.Conn.Send(sendCtx, req.Address, req.Text); err != nil {
		log.Warn().
			Err(err).
			Str("send_id", id).
			Str("to", req.Address).
			Uint64("generation", lease.Generation).
			Msg("outbound.Gateway.Send failed")
		// The handle closed under us: the session dropped mid-send.
		if errors.Is(err, transport.ErrClosed) || !g.sessions.Valid(lease.Generation) {
			return &SendError{Kind: NotConnected, Address: req.Address, Err: err}
		}
		return &SendError{Kind: TransportSendFailed, Address: req.Address, Err: err}
	}
	log.Info().
		Str("send_id", id).
		Str("to", req.Address).
		Uint64("generation", lease.Generation).
		Int("bytes", len(req.Text)).
		Msg("outbound.Gateway.Send")
	return nil
}
