package whatsapp

import (
	"time"

	"github.com/stacklight/wabridge/pkg/messaging"
	"github.com/stacklight/wabridge/pkg/rpc"
)

// Wire<->domain conversion. Unrecognized wire tags collapse to the most
// conservative domain variant so a newer bridge never breaks the host.

func chatTypeFromWire(s string) messaging.ChatType {
	if s == "group" {
		return messaging.ChatGroup
	}
	return messaging.ChatIndividual
}

func messageTypeFromWire(s string) messaging.MessageType {
	switch messaging.MessageType(s) {
	case messaging.MessageText, messaging.MessageImage, messaging.MessageVideo,
		messaging.MessageAudio, messaging.MessageDocument, messaging.MessageSticker,
		messaging.MessageReaction, messaging.MessageLocation:
		return messaging.MessageType(s)
	default:
		return messaging.MessageText
	}
}

func connectionStateFromWire(s string) messaging.ConnectionState {
	switch messaging.ConnectionState(s) {
	case messaging.StateConnected, messaging.StateConnecting, messaging.StatePairing,
		messaging.StateError, messaging.StateDisconnected:
		return messaging.ConnectionState(s)
	default:
		return messaging.StateDisconnected
	}
}

func statusFromWire(w *rpc.ConnectionStatus) messaging.ConnectionStatus {
	return messaging.ConnectionStatus{
		State:  connectionStateFromWire(w.Status),
		Reason: w.Error,
	}
}

func chatFromWire(w rpc.Chat) messaging.Chat {
	id, _ := messaging.ParseJID(w.ID)
	return messaging.Chat{
		ID:              id,
		Name:            w.Name,
		Type:            chatTypeFromWire(w.Type),
		LastMessageTime: w.LastMessageTime,
		LastMessageText: w.LastMessageText,
		LastSender:      w.LastSender,
		UnreadCount:     w.UnreadCount,
		Archived:        w.Archived,
		Muted:           w.Muted,
	}
}

func messageFromWire(w rpc.Message) messaging.Message {
	chatID, _ := messaging.ParseJID(w.ChatID)
	msg := messaging.Message{
		ID:        w.ID,
		ChatID:    chatID,
		SenderID:  w.SenderID,
		Text:      w.Text,
		Timestamp: w.Timestamp,
		FromMe:    w.FromMe,
		Read:      w.Read,
		Type:      messageTypeFromWire(w.Type),
		QuotedID:  w.QuotedID,
		Reaction:  w.Emoji,
	}
	if w.MediaURL != "" {
		msg.Media = &messaging.MediaRef{
			URL:      w.MediaURL,
			MimeType: w.MimeType,
			Filename: w.Filename,
		}
	}
	return msg
}

func pairingEventFromWire(w rpc.PairingEvent) messaging.PairingEvent {
	evt := messaging.PairingEvent{
		Code:        w.Code,
		UserID:      w.UserID,
		DisplayName: w.DisplayName,
		Error:       w.Error,
	}
	switch w.Event {
	case "code":
		evt.Kind = messaging.PairingQRCode
	case "timeout":
		evt.Kind = messaging.PairingTimeout
	case "success", "login":
		evt.Kind = messaging.PairingSuccess
	default:
		evt.Kind = messaging.PairingErrored
		if evt.Error == "" {
			evt.Error = "unexpected pairing event: " + w.Event
		}
	}
	return evt
}

// eventFromWire converts a streamed bridge event. Unknown event types are
// dropped (ok=false) rather than surfaced as errors.
func eventFromWire(w rpc.Event) (messaging.Event, bool) {
	evt := messaging.Event{Time: time.Now()}

	switch messaging.EventType(w.Type) {
	case messaging.EventMessageReceived, messaging.EventMessageSent:
		if w.Message == nil {
			return evt, false
		}
		msg := messageFromWire(*w.Message)
		evt.Type = messaging.EventType(w.Type)
		evt.Message = &msg
	case messaging.EventChatUpdated:
		if w.Chat == nil {
			return evt, false
		}
		chat := chatFromWire(*w.Chat)
		evt.Type = messaging.EventChatUpdated
		evt.Chat = &chat
	case messaging.EventConnectionStatus:
		if w.Status == nil {
			return evt, false
		}
		status := statusFromWire(w.Status)
		evt.Type = messaging.EventConnectionStatus
		evt.Status = &status
	default:
		return evt, false
	}

	return evt, true
}

func eventTypesToWire(types []messaging.EventType) []string {
	if len(types) == 0 {
		return nil
	}
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}
