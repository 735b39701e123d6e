// Package whatsapp adapts go.mau.fi/whatsmeow to transport.Transport.
//
// whatsmeow keeps device keys in its own sqlite store; the credentials blob
// this transport hands back to the session layer is the device JID, which
// selects the stored device on the next Open.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/danmuck/wagate/internal/transport"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite"
)

var _ transport.Transport = (*Transport)(nil)
var _ transport.Conn = (*Conn)(nil)

const sqliteDriver = "sqlite"

// Options configures the adapter.
type Options struct {
	// StorePath is the whatsmeow sqlite device store.
	StorePath string
	Logger    zerolog.Logger
}

type Transport struct {
	opts Options

	mu        sync.Mutex
	container *sqlstore.Container
}

func New(opts Options) *Transport {
	return &Transport{opts: opts}
}

func (t *Transport) openStore(ctx context.Context) (*sqlstore.Container, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.container != nil {
		return t.container, nil
	}
	if dir := filepath.Dir(t.opts.StorePath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("whatsapp: store dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", t.opts.StorePath)
	container, err := sqlstore.New(ctx, sqliteDriver, dsn, waLog.Zerolog(t.opts.Logger.With().Str("component", "whatsmeow.store").Logger()))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: open store %s: %w", t.opts.StorePath, err)
	}
	t.container = container
	return container, nil
}

func (t *Transport) device(ctx context.Context, container *sqlstore.Container, creds transport.Credentials) (*store.Device, error) {
	jid, ok := DecodeCredentials(creds)
	if !ok {
		return container.NewDevice(), nil
	}
	dev, err := container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: load device %s: %w", jid, err)
	}
	if dev == nil {
		t.opts.Logger.Warn().Str("jid", jid.String()).Msg("whatsapp.Transport stored device missing, pairing required")
		return container.NewDevice(), nil
	}
	return dev, nil
}

func (t *Transport) Open(ctx context.Context, creds transport.Credentials, handler transport.Handler) (transport.Conn, error) {
	container, err := t.openStore(ctx)
	if err != nil {
		return nil, err
	}
	dev, err := t.device(ctx, container, creds)
	if err != nil {
		return nil, err
	}

	client := whatsmeow.NewClient(dev, waLog.Zerolog(t.opts.Logger.With().Str("component", "whatsmeow").Logger()))
	client.EnableAutoReconnect = false
	c := &Conn{client: client, handler: handler, logger: t.opts.Logger}
	client.AddEventHandler(c.handleEvent)

	handler.HandleEvent(transport.Event{Kind: transport.EventConnecting})
	if client.Store.ID == nil {
		qr, err := client.GetQRChannel(ctx)
		if err != nil {
			return nil, fmt.Errorf("whatsapp: pairing channel: %w", err)
		}
		go c.forwardPairing(qr)
	}
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("whatsapp: connect: %w", err)
	}
	return c, nil
}

// Conn is one whatsmeow client.
type Conn struct {
	client  *whatsmeow.Client
	handler transport.Handler
	logger  zerolog.Logger
}

func (c *Conn) Send(ctx context.Context, address, text string) error {
	jid, err := types.ParseJID(address)
	if err != nil {
		return fmt.Errorf("whatsapp: parse %q: %w", address, err)
	}
	resp, err := c.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return err
	}
	c.logger.Debug().Str("id", string(resp.ID)).Str("to", jid.String()).Msg("whatsapp.Conn.Send")
	return nil
}

func (c *Conn) Close() error {
	c.client.Disconnect()
	return nil
}

func (c *Conn) Logout(ctx context.Context) error {
	if !c.client.IsConnected() {
		return transport.ErrClosed
	}
	return c.client.Logout(ctx)
}

func (c *Conn) forwardPairing(items <-chan whatsmeow.QRChannelItem) {
	for item := range items {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			c.handler.HandleEvent(transport.Event{Kind: transport.EventPairing, Challenge: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			c.logger.Info().Msg("whatsapp.Conn pairing complete")
		case whatsmeow.QRChannelTimeout.Event:
			c.handler.HandleEvent(transport.Event{
				Kind:  transport.EventClose,
				Cause: transport.CauseTimedOut,
				Err:   errors.New("pairing challenge expired"),
			})
		case whatsmeow.QRChannelEventError:
			c.handler.HandleEvent(transport.Event{Kind: transport.EventClose, Cause: transport.CauseStreamError, Err: item.Error})
		default:
			c.handler.HandleEvent(transport.Event{
				Kind:  transport.EventClose,
				Cause: transport.CauseStreamError,
				Err:   fmt.Errorf("pairing failed: %s", item.Event),
			})
		}
	}
}

func (c *Conn) handleEvent(evt any) {
	ev, ok := translate(evt)
	if !ok {
		return
	}
	c.handler.HandleEvent(ev)
}
