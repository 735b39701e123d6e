package outbound

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/wagate/internal/credstore"
	"github.com/danmuck/wagate/internal/session"
	"github.com/danmuck/wagate/internal/testutil/testlog"
	"github.com/danmuck/wagate/internal/transport"
	"github.com/danmuck/wagate/internal/transport/loopback"
)

type fakeSessions struct {
	mu         sync.Mutex
	lease      session.Lease
	ready      bool
	invalidate bool
	validCalls atomic.Int64
}

func (f *fakeSessions) Lease() (session.Lease, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lease, f.ready
}

func (f *fakeSessions) Valid(gen uint64) bool {
	f.validCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready && !f.invalidate && gen == f.lease.Generation
}

func openConn(t *testing.T) *loopback.Conn {
	t.Helper()
	tr := loopback.New(loopback.Options{})
	conn, err := tr.Open(context.Background(), nil, transport.HandlerFunc(func(transport.Event) {}))
	if err != nil {
		t.Fatalf("open loopback: %v", err)
	}
	return conn.(*loopback.Conn)
}

func TestSendNotConnectedNeverReachesTransport(t *testing.T) {
	testlog.Start(t)
	conn := openConn(t)
	sessions := &fakeSessions{lease: session.Lease{Generation: 1, Conn: conn}}
	g := New(sessions, 0)

	err := g.Send(context.Background(), Request{Address: "5511999999999@s.whatsapp.net", Text: "hi"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err.Error() != "There is no connection to WhatsApp" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if len(conn.Sent()) != 0 {
		t.Fatalf("send reached transport")
	}
}

func TestSendInvalidAddress(t *testing.T) {
	testlog.Start(t)
	conn := openConn(t)
	g := New(&fakeSessions{lease: session.Lease{Generation: 1, Conn: conn}, ready: true}, 0)

	for _, addr := range []string{"not-a-valid-jid", "", "123@lid", "status@broadcast", "@s.whatsapp.net"} {
		t.Run(addr, func(t *testing.T) {
			err := g.Send(context.Background(), Request{Address: addr, Text: "hi"})
			var serr *SendError
			if !errors.As(err, &serr) || serr.Kind != InvalidAddress {
				t.Fatalf("expected InvalidAddress, got %v", err)
			}
			if !errors.Is(err, ErrInvalidAddress) {
				t.Fatalf("errors.Is failed for %v", err)
			}
		})
	}
	if len(conn.Sent()) != 0 {
		t.Fatalf("invalid address reached transport")
	}
}

func TestSendPrivateAndGroup(t *testing.T) {
	testlog.Start(t)
	conn := openConn(t)
	g := New(&fakeSessions{lease: session.Lease{Generation: 7, Conn: conn}, ready: true}, 0)

	for _, addr := range []string{"5511999999999@s.whatsapp.net", "120363025246125486@g.us"} {
		if err := g.Send(context.Background(), Request{Address: addr, Text: "hello"}); err != nil {
			t.Fatalf("send %s: %v", addr, err)
		}
	}
	sent := conn.Sent()
	if len(sent) != 2 || sent[0].Address != "5511999999999@s.whatsapp.net" || sent[1].Text != "hello" {
		t.Fatalf("unexpected sends: %+v", sent)
	}
}

func TestSendSupersededGeneration(t *testing.T) {
	testlog.Start(t)
	conn := openConn(t)
	sessions := &fakeSessions{lease: session.Lease{Generation: 3, Conn: conn}, ready: true, invalidate: true}
	g := New(sessions, 0)

	err := g.Send(context.Background(), Request{Address: "1@s.whatsapp.net", Text: "hi"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if sessions.validCalls.Load() != 1 || len(conn.Sent()) != 0 {
		t.Fatalf("superseded lease reached transport")
	}
}

func TestSendTransportFailure(t *testing.T) {
	testlog.Start(t)
	conn := openConn(t)
	cause := errors.New("server rejected")
	conn.FailSends(cause)
	g := New(&fakeSessions{lease: session.Lease{Generation: 1, Conn: conn}, ready: true}, 0)

	err := g.Send(context.Background(), Request{Address: "1@s.whatsapp.net", Text: "hi"})
	var serr *SendError
	if !errors.As(err, &serr) || serr.Kind != TransportSendFailed {
		t.Fatalf("expected TransportSendFailed, got %v", err)
	}
	if !errors.Is(err, cause) || !errors.Is(err, ErrTransportSendFailed) {
		t.Fatalf("cause not wrapped: %v", err)
	}
}

func TestConcurrentSends(t *testing.T) {
	testlog.Start(t)
	conn := openConn(t)
	g := New(&fakeSessions{lease: session.Lease{Generation: 1, Conn: conn}, ready: true}, 0)

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- g.Send(context.Background(), Request{Address: "1@s.whatsapp.net", Text: fmt.Sprintf("m%d", i)})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if len(conn.Sent()) != n {
		t.Fatalf("expected %d sends, got %d", n, len(conn.Sent()))
	}
}

func TestSendsDuringReconnectChurn(t *testing.T) {
	testlog.Start(t)
	tr := loopback.New(loopback.Options{AutoOpen: true})
	mgr := session.NewManager(tr, credstore.NewFileStore(filepath.Join(t.TempDir(), "creds.cbor")),
		session.WithConfig(session.Config{ReconnectDelay: time.Millisecond, SetupRetryDelay: time.Millisecond}))
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = mgr.Stop(ctx)
	})
	g := New(mgr, time.Second)

	waitReady := func() {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for !mgr.IsReady() {
			if time.Now().After(deadline) {
				t.Fatalf("session never became ready")
			}
			time.Sleep(time.Millisecond)
		}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var delivered atomic.Int64
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for n := 0; ; n++ {
				select {
				case <-stop:
					return
				default:
				}
				err := g.Send(context.Background(), Request{Address: "5511999999999@s.whatsapp.net", Text: fmt.Sprintf("w%d-%d", i, n)})
				switch {
				case err == nil:
					delivered.Add(1)
				case errors.Is(err, ErrNotConnected):
				default:
					errs <- err
					return
				}
			}
		}(i)
	}

	for i := 0; i < 20; i++ {
		waitReady()
		lease, ok := mgr.Lease()
		if !ok {
			continue
		}
		lease.Conn.(*loopback.Conn).Drop(transport.CauseConnectionLost, nil)
		deadline := time.Now().Add(2 * time.Second)
		for mgr.Valid(lease.Generation) {
			if time.Now().After(deadline) {
				t.Fatalf("generation %d outlived its close", lease.Generation)
			}
			time.Sleep(time.Millisecond)
		}
	}
	waitReady()
	close(stop)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("send failed with unexpected kind: %v", err)
	}

	total := 0
	for _, c := range tr.Conns() {
		total += len(c.Sent())
	}
	if int64(total) != delivered.Load() {
		t.Fatalf("transport recorded %d sends, callers saw %d succeed", total, delivered.Load())
	}
	if len(tr.Conns()) < 21 {
		t.Fatalf("expected at least 21 connections, got %d", len(tr.Conns()))
	}
	lease, ok := mgr.Lease()
	if !ok || lease.Conn.(*loopback.Conn).Closed() {
		t.Fatalf("live lease points at a closed connection")
	}
}

func TestSendOnClosedHandleIsNotConnected(t *testing.T) {
	testlog.Start(t)
	conn := openConn(t)
	_ = conn.Close()
	g := New(&fakeSessions{lease: session.Lease{Generation: 1, Conn: conn}, ready: true}, 0)

	err := g.Send(context.Background(), Request{Address: "1@s.whatsapp.net", Text: "hi"})
	if !errors.Is(err, ErrNotConnected) || !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected NotConnected wrapping ErrClosed, got %v", err)
	}
}
