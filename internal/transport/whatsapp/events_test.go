package whatsapp

import (
	"testing"

	"github.com/danmuck/wagate/internal/transport"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func TestCredentialsRoundTrip(t *testing.T) {
	jid := types.NewJID("5511999999999", types.DefaultUserServer)
	got, ok := DecodeCredentials(EncodeCredentials(jid))
	if !ok || got.User != jid.User || got.Server != jid.Server {
		t.Fatalf("round trip mismatch: %v ok=%v", got, ok)
	}

	for _, blob := range []string{"", "  ", "garbage", "120363025246125486@g.us"} {
		if _, ok := DecodeCredentials(transport.Credentials(blob)); ok {
			t.Fatalf("expected %q to read as unpaired", blob)
		}
	}
}

func TestTranslateLifecycle(t *testing.T) {
	cases := []struct {
		name  string
		evt   any
		kind  transport.EventKind
		cause transport.Cause
	}{
		{"connected", &events.Connected{}, transport.EventOpen, ""},
		{"disconnected", &events.Disconnected{}, transport.EventClose, transport.CauseConnectionLost},
		{"logged out", &events.LoggedOut{Reason: events.ConnectFailureLoggedOut}, transport.EventClose, transport.CauseLoggedOut},
		{"replaced", &events.StreamReplaced{}, transport.EventClose, transport.CauseConnectionReplaced},
		{"stream error", &events.StreamError{Code: "503"}, transport.EventClose, transport.CauseStreamError},
		{"connect failure logout", &events.ConnectFailure{Reason: events.ConnectFailureLoggedOut}, transport.EventClose, transport.CauseLoggedOut},
		{"connect failure other", &events.ConnectFailure{Reason: events.ConnectFailureServiceUnavailable}, transport.EventClose, transport.CauseConnectionClosed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, ok := translate(tc.evt)
			if !ok {
				t.Fatalf("event not translated")
			}
			if ev.Kind != tc.kind || ev.Cause != tc.cause {
				t.Fatalf("got kind=%s cause=%q", ev.Kind, ev.Cause)
			}
		})
	}

	if _, ok := translate(&events.Receipt{}); ok {
		t.Fatalf("receipt should be ignored")
	}
}

func TestTranslatePairSuccess(t *testing.T) {
	jid := types.NewJID("5511888888888", types.DefaultUserServer)
	ev, ok := translate(&events.PairSuccess{ID: jid})
	if !ok || ev.Kind != transport.EventCredentials {
		t.Fatalf("unexpected event: %+v ok=%v", ev, ok)
	}
	if got, ok := DecodeCredentials(ev.Credentials); !ok || got.User != jid.User {
		t.Fatalf("credentials do not decode to the paired device: %q", ev.Credentials)
	}
}

func TestTranslateMessage(t *testing.T) {
	sender := types.NewJID("5511777777777", types.DefaultUserServer)
	evt := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: sender, Sender: sender},
			ID:            "ABC",
		},
		Message: &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hi https://example.com")},
		},
	}
	ev, ok := translate(evt)
	if !ok || ev.Kind != transport.EventInbound || len(ev.Messages) != 1 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	m := ev.Messages[0]
	if m.ID != "ABC" || m.Chat != "5511777777777@s.whatsapp.net" || m.Conversation != "" || m.ExtendedText != "hi https://example.com" {
		t.Fatalf("unexpected raw message: %+v", m)
	}
}
