package messaging

import (
	"errors"
	"strings"

	watypes "go.mau.fi/whatsmeow/types"
)

// JID identifies a chat or contact in "user@server" form.
type JID = watypes.JID

// DefaultServer is assumed when an id carries no server part.
const DefaultServer = watypes.DefaultUserServer

// ErrInvalidChatID reports a chat id with an empty user part.
var ErrInvalidChatID = errors.New("invalid chat id")

// ParseJID parses a "user@server" chat id, splitting on the first '@' and
// defaulting the server when absent or empty. The user part must be
// non-empty.
func ParseJID(s string) (JID, error) {
	user, server, _ := strings.Cut(s, "@")
	if server == "" {
		server = DefaultServer
	}
	if user == "" {
		return JID{}, ErrInvalidChatID
	}
	return watypes.NewJID(user, server), nil
}

// FormatJID renders a JID back to "user@server". ParseJID(FormatJID(j)) == j
// for any JID with a non-empty user part.
func FormatJID(j JID) string {
	return j.User + "@" + j.Server
}
