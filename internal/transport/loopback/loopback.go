// Package loopback is an in-process transport. Tests script network events
// through it; the gateway can also run against it for local development,
// where it pairs immediately and records sends instead of delivering them.
package loopback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/danmuck/wagate/internal/transport"
	"github.com/rs/zerolog/log"
)

var _ transport.Transport = (*Transport)(nil)
var _ transport.Conn = (*Conn)(nil)

// DefaultChallenge is the pairing code emitted by AutoOpen when no
// credentials are presented.
const DefaultChallenge = "loopback-pairing-challenge"

// Options controls scripted behavior.
type Options struct {
	// AutoOpen completes every Open: pairing (when no credentials were
	// given), a credentials update, then "open".
	AutoOpen bool
}

// Sent records one delivered outbound message.
type Sent struct {
	Address string
	Text    string
}

// Transport hands out loopback Conns.
type Transport struct {
	opts Options

	mu      sync.Mutex
	conns   []*Conn
	openErr []error
	opened  chan *Conn
}

func New(opts Options) *Transport {
	return &Transport{
		opts:   opts,
		opened: make(chan *Conn, 64),
	}
}

// FailNextOpen makes the next Open call return err.
func (t *Transport) FailNextOpen(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.openErr = append(t.openErr, err)
}

// Opened delivers every Conn in the order Open created it.
func (t *Transport) Opened() <-chan *Conn {
	return t.opened
}

// Conns returns every Conn created so far.
func (t *Transport) Conns() []*Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Conn, len(t.conns))
	copy(out, t.conns)
	return out
}

func (t *Transport) Open(ctx context.Context, creds transport.Credentials, events transport.Handler) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	if len(t.openErr) > 0 {
		err := t.openErr[0]
		t.openErr = t.openErr[1:]
		t.mu.Unlock()
		return nil, err
	}
	c := &Conn{
		index:   len(t.conns),
		handler: events,
		creds:   append(transport.Credentials(nil), creds...),
	}
	t.conns = append(t.conns, c)
	t.mu.Unlock()

	select {
	case t.opened <- c:
	default:
	}

	events.HandleEvent(transport.Event{Kind: transport.EventConnecting})
	if t.opts.AutoOpen {
		if len(creds) == 0 {
			c.Pair(DefaultChallenge)
			c.UpdateCredentials(transport.Credentials("loopback-device"))
		}
		c.Open()
	}
	return c, nil
}

// Conn is one scripted connection.
type Conn struct {
	index   int
	handler transport.Handler
	creds   transport.Credentials

	mu        sync.Mutex
	closed    bool
	loggedOut bool
	sendErr   error
	hold      chan struct{}
	sent      []Sent

	held atomic.Int32
}

// Index is the order in which this Conn was opened, starting at 0.
func (c *Conn) Index() int { return c.index }

// Credentials returns what the gateway presented to Open.
func (c *Conn) Credentials() transport.Credentials { return c.creds }

func (c *Conn) Emit(ev transport.Event) { c.handler.HandleEvent(ev) }

func (c *Conn) Pair(challenge string) {
	c.Emit(transport.Event{Kind: transport.EventPairing, Challenge: challenge})
}

func (c *Conn) Open() { c.Emit(transport.Event{Kind: transport.EventOpen}) }

// Drop emits a close with cause, as the network would.
func (c *Conn) Drop(cause transport.Cause, err error) {
	c.Emit(transport.Event{Kind: transport.EventClose, Cause: cause, Err: err})
}

func (c *Conn) UpdateCredentials(creds transport.Credentials) {
	c.Emit(transport.Event{Kind: transport.EventCredentials, Credentials: creds})
}

func (c *Conn) Deliver(msgs ...transport.RawMessage) {
	c.Emit(transport.Event{Kind: transport.EventInbound, Messages: msgs})
}

// FailSends makes every following Send return err.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// HoldSends parks every following Send until release is called.
func (c *Conn) HoldSends() (release func()) {
	hold := make(chan struct{})
	c.mu.Lock()
	c.hold = hold
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if c.hold == hold {
				c.hold = nil
			}
			c.mu.Unlock()
			close(hold)
		})
	}
}

// Held reports how many Sends are parked by HoldSends.
func (c *Conn) Held() int { return int(c.held.Load()) }

func (c *Conn) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sent, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

func (c *Conn) Send(ctx context.Context, address, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	hold := c.hold
	c.mu.Unlock()
	if hold != nil {
		c.held.Add(1)
		select {
		case <-hold:
			c.held.Add(-1)
		case <-ctx.Done():
			c.held.Add(-1)
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, Sent{Address: address, Text: text})
	log.Debug().Int("conn", c.index).Str("address", address).Int("bytes", len(text)).Msg("loopback.Conn.Send")
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Conn) Logout(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	c.loggedOut = true
	c.closed = true
	c.mu.Unlock()
	c.Drop(transport.CauseLoggedOut, errors.New("loopback: logged out"))
	return nil
}
