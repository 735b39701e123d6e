package loopback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/wagate/internal/testutil/testlog"
	"github.com/danmuck/wagate/internal/transport"
)

type recorder struct {
	mu     sync.Mutex
	events []transport.Event
}

func (r *recorder) HandleEvent(ev transport.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []transport.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]transport.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func TestAutoOpenPairsOnlyWithoutCredentials(t *testing.T) {
	testlog.Start(t)
	tr := New(Options{AutoOpen: true})

	fresh := &recorder{}
	if _, err := tr.Open(context.Background(), nil, fresh); err != nil {
		t.Fatalf("open: %v", err)
	}
	want := []transport.EventKind{transport.EventConnecting, transport.EventPairing, transport.EventCredentials, transport.EventOpen}
	if got := fresh.kinds(); len(got) != len(want) {
		t.Fatalf("unexpected events: %v", got)
	}

	paired := &recorder{}
	if _, err := tr.Open(context.Background(), transport.Credentials("dev"), paired); err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := paired.kinds(); len(got) != 2 || got[1] != transport.EventOpen {
		t.Fatalf("unexpected events with credentials: %v", got)
	}
	if len(tr.Conns()) != 2 {
		t.Fatalf("expected two conns")
	}
}

func TestFailNextOpen(t *testing.T) {
	testlog.Start(t)
	tr := New(Options{})
	boom := errors.New("boom")
	tr.FailNextOpen(boom)
	if _, err := tr.Open(context.Background(), nil, &recorder{}); !errors.Is(err, boom) {
		t.Fatalf("expected scripted failure, got %v", err)
	}
	if _, err := tr.Open(context.Background(), nil, &recorder{}); err != nil {
		t.Fatalf("second open: %v", err)
	}
}

func TestSendCloseLogout(t *testing.T) {
	testlog.Start(t)
	tr := New(Options{})
	rec := &recorder{}
	conn, err := tr.Open(context.Background(), nil, rec)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	c := conn.(*Conn)

	if err := c.Send(context.Background(), "1@s.whatsapp.net", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if !c.LoggedOut() || !c.Closed() {
		t.Fatalf("expected logged out and closed")
	}
	if err := c.Send(context.Background(), "1@s.whatsapp.net", "again"); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	kinds := rec.kinds()
	last := rec.events[len(kinds)-1]
	if last.Kind != transport.EventClose || last.Cause != transport.CauseLoggedOut {
		t.Fatalf("expected logged_out close, got %+v", last)
	}
	if len(c.Sent()) != 1 {
		t.Fatalf("unexpected sends: %+v", c.Sent())
	}
}

func TestHoldSends(t *testing.T) {
	testlog.Start(t)
	tr := New(Options{})
	conn, err := tr.Open(context.Background(), nil, &recorder{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	c := conn.(*Conn)
	release := c.HoldSends()

	done := make(chan error, 1)
	go func() { done <- c.Send(context.Background(), "1@s.whatsapp.net", "held") }()
	deadline := time.Now().Add(2 * time.Second)
	for c.Held() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("send never parked")
		}
		time.Sleep(time.Millisecond)
	}
	if len(c.Sent()) != 0 {
		t.Fatalf("held send recorded early")
	}
	release()
	release()
	if err := <-done; err != nil {
		t.Fatalf("send: %v", err)
	}
	if c.Held() != 0 || len(c.Sent()) != 1 {
		t.Fatalf("unexpected state: held=%d sent=%d", c.Held(), len(c.Sent()))
	}
}
