package messaging

import (
	"context"
	"time"
)

// ConnectionState is the provider-published connection lifecycle state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StatePairing      ConnectionState = "pairing"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// ConnectionStatus pairs a state with an optional failure reason.
type ConnectionStatus struct {
	State  ConnectionState `json:"state"`
	Reason string          `json:"reason,omitempty"`
}

// ChatType distinguishes direct chats from groups.
type ChatType string

const (
	ChatIndividual ChatType = "individual"
	ChatGroup      ChatType = "group"
)

// MessageType is the closed set of message kinds the host understands.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageAudio    MessageType = "audio"
	MessageDocument MessageType = "document"
	MessageSticker  MessageType = "sticker"
	MessageReaction MessageType = "reaction"
	MessageLocation MessageType = "location"
)

// Chat is a single conversation as reported by the bridge.
type Chat struct {
	ID              JID       `json:"id"`
	Name            string    `json:"name"`
	Type            ChatType  `json:"type"`
	LastMessageTime time.Time `json:"last_message_time"`
	LastMessageText string    `json:"last_message_text,omitempty"`
	LastSender      string    `json:"last_sender,omitempty"`
	UnreadCount     int       `json:"unread_count"`
	Archived        bool      `json:"archived"`
	Muted           bool      `json:"muted"`
}

// MediaRef points at downloadable media attached to a message.
type MediaRef struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Message is a single chat message as reported by the bridge.
type Message struct {
	ID        string      `json:"id"`
	ChatID    JID         `json:"chat_id"`
	SenderID  string      `json:"sender_id"`
	Text      string      `json:"text,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	FromMe    bool        `json:"from_me"`
	Read      bool        `json:"read"`
	Type      MessageType `json:"type"`
	Media     *MediaRef   `json:"media,omitempty"`
	QuotedID  string      `json:"quoted_id,omitempty"`
	Reaction  string      `json:"reaction,omitempty"`
}

// EventType tags the Event union.
type EventType string

const (
	EventMessageReceived  EventType = "message_received"
	EventMessageSent      EventType = "message_sent"
	EventChatUpdated      EventType = "chat_updated"
	EventConnectionStatus EventType = "connection_status"
)

// Event is the tagged union delivered to event subscribers. Exactly one of
// Message, Chat, Status is set, according to Type.
type Event struct {
	Type    EventType         `json:"type"`
	Message *Message          `json:"message,omitempty"`
	Chat    *Chat             `json:"chat,omitempty"`
	Status  *ConnectionStatus `json:"status,omitempty"`
	Time    time.Time         `json:"time"`
}

// PairingEventKind tags QR pairing stream events.
type PairingEventKind string

const (
	PairingQRCode  PairingEventKind = "qr_code"
	PairingTimeout PairingEventKind = "timeout"
	PairingSuccess PairingEventKind = "success"
	PairingErrored PairingEventKind = "error"
)

// PairingEvent is one step of the QR pairing flow.
type PairingEvent struct {
	Kind        PairingEventKind `json:"kind"`
	Code        string           `json:"code,omitempty"`
	UserID      string           `json:"user_id,omitempty"`
	DisplayName string           `json:"display_name,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Provider is the capability surface exposed to the rest of the application.
// Implementations own the bridge subprocess and its RPC transport.
type Provider interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	StartQRPairing(ctx context.Context) (<-chan PairingEvent, error)
	StartCodePairing(ctx context.Context, phone string) (string, error)
	Logout(ctx context.Context) error

	GetChats(ctx context.Context, limit, offset int, includeArchived bool) ([]Chat, error)
	GetChat(ctx context.Context, chatID string) (*Chat, error)
	GetMessages(ctx context.Context, chatID string, limit int, beforeID, afterID string) ([]Message, error)
	SendMessage(ctx context.Context, chatID, text, quotedID string) (*Message, error)
	SendReaction(ctx context.Context, chatID, messageID, emoji string) error
	MarkAsRead(ctx context.Context, chatID string, messageIDs []string) error

	SubscribeEvents(ctx context.Context, types []EventType) (<-chan Event, error)

	Status() ConnectionStatus
	IsLoggedIn() bool
}
