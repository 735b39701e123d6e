package inbound

import (
	"testing"

	"github.com/danmuck/wagate/internal/testutil/testlog"
	"github.com/danmuck/wagate/internal/transport"
)

func collect() (*[]Message, Sink) {
	var got []Message
	return &got, SinkFunc(func(m Message) { got = append(got, m) })
}

func TestRouteMixedBatchYieldsOnlyPrivate(t *testing.T) {
	testlog.Start(t)
	got, sink := collect()
	r := NewRouter(sink)

	n := r.Route([]transport.RawMessage{
		{ID: "1", Chat: "5511888888888@s.whatsapp.net", FromSelf: true, Conversation: "mine"},
		{ID: "2", Chat: "status@broadcast", Conversation: "story"},
		{ID: "3", Chat: "5511777777777@s.whatsapp.net", Conversation: "hello"},
	})
	if n != 1 || len(*got) != 1 {
		t.Fatalf("expected exactly one routed message, got n=%d %+v", n, *got)
	}
	m := (*got)[0]
	if m.ID != "3" || m.SenderAddress != "5511777777777@s.whatsapp.net" || m.Text != "hello" {
		t.Fatalf("unexpected message: %+v", m)
	}
	if m.IsFromSelf || m.IsBroadcast {
		t.Fatalf("unexpected flags: %+v", m)
	}
}

func TestRouteSkipsGroupsAndEmpty(t *testing.T) {
	testlog.Start(t)
	got, sink := collect()
	r := NewRouter(sink)

	r.Route([]transport.RawMessage{
		{ID: "g", Chat: "120363025246125486@g.us", Sender: "5511777777777@s.whatsapp.net", Conversation: "group"},
		{ID: "e", Chat: "5511777777777@s.whatsapp.net"},
		{ID: "l", Chat: "123456@lid", Conversation: "lid"},
	})
	if len(*got) != 0 {
		t.Fatalf("expected nothing routed, got %+v", *got)
	}
}

func TestRouteExtendedTextAndOrder(t *testing.T) {
	testlog.Start(t)
	got, sink := collect()
	r := NewRouter(sink)

	r.Route([]transport.RawMessage{
		{ID: "a", Chat: "1@s.whatsapp.net", Conversation: "first"},
		{ID: "b", Chat: "2@s.whatsapp.net", ExtendedText: "second https://example.com"},
		{ID: "c", Chat: "3@s.whatsapp.net", Conversation: "third", ExtendedText: "ignored"},
	})
	want := []string{"first", "second https://example.com", "third"}
	if len(*got) != len(want) {
		t.Fatalf("unexpected routed count: %+v", *got)
	}
	for i, text := range want {
		if (*got)[i].Text != text {
			t.Fatalf("message %d: got %q want %q", i, (*got)[i].Text, text)
		}
	}
}
