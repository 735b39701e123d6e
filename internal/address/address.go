// Package address validates and resolves WhatsApp recipient addresses (JIDs).
package address

import (
	"errors"
	"fmt"
	"strings"
)

const (
	UserServer      = "s.whatsapp.net"
	GroupServer     = "g.us"
	BroadcastServer = "broadcast"

	// StatusBroadcast is the pseudo-chat status updates arrive on.
	StatusBroadcast = "status@" + BroadcastServer
)

var ErrInvalid = errors.New("address: invalid JID format")

// Split returns the user and server parts of a JID. Device suffixes
// ("user:device@server") are kept in user.
func Split(jid string) (user, server string, ok bool) {
	at := strings.LastIndexByte(jid, '@')
	if at <= 0 || at == len(jid)-1 {
		return "", "", false
	}
	return jid[:at], jid[at+1:], true
}

// IsPrivate reports whether jid is a one-to-one chat address.
func IsPrivate(jid string) bool {
	user, server, ok := Split(jid)
	return ok && server == UserServer && !strings.ContainsRune(user, '@')
}

// IsGroup reports whether jid is a group chat address.
func IsGroup(jid string) bool {
	user, server, ok := Split(jid)
	return ok && server == GroupServer && !strings.ContainsRune(user, '@')
}

// IsBroadcast reports whether jid is on the broadcast server.
func IsBroadcast(jid string) bool {
	_, server, ok := Split(jid)
	return ok && server == BroadcastServer
}

// Validate accepts private and group addresses only.
func Validate(jid string) error {
	if IsPrivate(jid) || IsGroup(jid) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalid, jid)
}

// Phone returns the bare number of a private address.
func Phone(jid string) string {
	user, _, ok := Split(jid)
	if !ok {
		return jid
	}
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	return user
}

// Resolve turns caller input into a fully qualified address:
//   - anything containing '@' is returned unchanged
//   - a bare phone number becomes <digits>@s.whatsapp.net
//   - empty input or "me" becomes the own number's private address
//   - anything else is returned unchanged and fails Validate
func Resolve(input, ownNumber string) string {
	in := strings.TrimSpace(input)
	if strings.ContainsRune(in, '@') {
		return in
	}
	if in == "" || strings.EqualFold(in, "me") {
		own, ok := NormalizePhone(ownNumber)
		if !ok {
			return in
		}
		return own + "@" + UserServer
	}
	if digits, ok := NormalizePhone(in); ok {
		return digits + "@" + UserServer
	}
	return in
}

// NormalizePhone strips a leading '+' and common separators and reports
// whether what remains is all digits.
func NormalizePhone(raw string) (string, bool) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "+")
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", false
		}
	}
	if b.Len() == 0 {
		return "", false
	}
	return b.String(), true
}
