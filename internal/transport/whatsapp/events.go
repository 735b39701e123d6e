package whatsapp

import (
	"fmt"
	"strings"

	"github.com/danmuck/wagate/internal/transport"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// EncodeCredentials returns the credentials blob for a paired device.
func EncodeCredentials(jid types.JID) transport.Credentials {
	return transport.Credentials(jid.String())
}

// DecodeCredentials parses a blob from EncodeCredentials. Anything else
// reads as "not paired".
func DecodeCredentials(creds transport.Credentials) (types.JID, bool) {
	raw := strings.TrimSpace(string(creds))
	if raw == "" {
		return types.JID{}, false
	}
	jid, err := types.ParseJID(raw)
	if err != nil || jid.User == "" || jid.Server != types.DefaultUserServer {
		return types.JID{}, false
	}
	return jid, true
}

func closed(cause transport.Cause, err error) transport.Event {
	return transport.Event{Kind: transport.EventClose, Cause: cause, Err: err}
}

// translate maps a whatsmeow event onto a transport event.
func translate(evt any) (transport.Event, bool) {
	switch e := evt.(type) {
	case *events.Connected:
		return transport.Event{Kind: transport.EventOpen}, true
	case *events.PairSuccess:
		return transport.Event{Kind: transport.EventCredentials, Credentials: EncodeCredentials(e.ID)}, true
	case *events.Disconnected:
		return closed(transport.CauseConnectionLost, nil), true
	case *events.LoggedOut:
		return closed(transport.CauseLoggedOut, fmt.Errorf("logged out: %s", e.Reason)), true
	case *events.StreamReplaced:
		return closed(transport.CauseConnectionReplaced, nil), true
	case *events.TemporaryBan:
		return closed(transport.CauseTemporaryBan, fmt.Errorf("temporary ban: %s", e.String())), true
	case *events.StreamError:
		return closed(transport.CauseStreamError, fmt.Errorf("stream error code %s", e.Code)), true
	case *events.ConnectFailure:
		if e.Reason.IsLoggedOut() {
			return closed(transport.CauseLoggedOut, fmt.Errorf("connect failure: %s", e.Reason)), true
		}
		return closed(transport.CauseConnectionClosed, fmt.Errorf("connect failure: %s %s", e.Reason, e.Message)), true
	case *events.ClientOutdated:
		return closed(transport.CauseConnectionClosed, fmt.Errorf("client outdated")), true
	case *events.Message:
		return transport.Event{Kind: transport.EventInbound, Messages: []transport.RawMessage{rawMessage(e)}}, true
	default:
		return transport.Event{}, false
	}
}

func rawMessage(e *events.Message) transport.RawMessage {
	raw := transport.RawMessage{
		ID:       string(e.Info.ID),
		Chat:     e.Info.Chat.String(),
		Sender:   e.Info.Sender.String(),
		FromSelf: e.Info.IsFromMe,
	}
	if e.Message != nil {
		raw.Conversation = e.Message.GetConversation()
		raw.ExtendedText = e.Message.GetExtendedTextMessage().GetText()
	}
	return raw
}
