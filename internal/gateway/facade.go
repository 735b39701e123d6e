package gateway

import (
	"context"
	"time"

	"github.com/danmuck/wagate/internal/address"
	"github.com/danmuck/wagate/internal/clock"
	"github.com/danmuck/wagate/internal/outbound"
	"github.com/danmuck/wagate/internal/session"
)

// Sessions is the part of session.Manager the facade reads.
type Sessions interface {
	Snapshot() session.Snapshot
	PairingChallenge() (string, bool)
	Logout(ctx context.Context) error
}

// Sender delivers resolved outbound requests.
type Sender interface {
	Send(ctx context.Context, req outbound.Request) error
}

// Status is the externally visible connection state.
type Status struct {
	Connected  bool
	State      string
	Terminal   bool
	Generation uint64
	Reconnects uint64
	LastError  string
	Timestamp  time.Time
}

// Facade is the gateway's public operation set.
type Facade struct {
	sessions  Sessions
	sender    Sender
	ownNumber string
	clock     clock.Clock
}

func NewFacade(sessions Sessions, sender Sender, ownNumber string, c clock.Clock) *Facade {
	if c == nil {
		c = clock.Real()
	}
	return &Facade{
		sessions:  sessions,
		sender:    sender,
		ownNumber: ownNumber,
		clock:     c,
	}
}

func (f *Facade) Status() Status {
	snap := f.sessions.Snapshot()
	st := Status{
		Connected:  snap.Ready,
		State:      snap.State.String(),
		Terminal:   snap.Terminal,
		Generation: snap.Generation,
		Reconnects: snap.Reconnects,
		Timestamp:  f.clock.Now().UTC(),
	}
	if snap.LastError != nil {
		st.LastError = snap.LastError.Error()
	}
	return st
}

// SendMessage resolves to against the own number and sends text.
func (f *Facade) SendMessage(ctx context.Context, to, text string) error {
	return f.sender.Send(ctx, outbound.Request{
		Address: address.Resolve(to, f.ownNumber),
		Text:    text,
	})
}

// Pairing returns the outstanding pairing challenge, if any.
func (f *Facade) Pairing() (string, bool) {
	return f.sessions.PairingChallenge()
}

func (f *Facade) Logout(ctx context.Context) error {
	return f.sessions.Logout(ctx)
}
