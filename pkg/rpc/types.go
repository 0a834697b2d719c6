package rpc

import (
	"encoding/json"
	"time"
)

// Wire DTOs exchanged with the bridge. Field sets follow the bridge's flat
// request/response shapes; the encoding is line-delimited JSON.

type Chat struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Type            string    `json:"type"`
	LastMessageTime time.Time `json:"last_message_time"`
	LastMessageText string    `json:"last_message_text,omitempty"`
	LastSender      string    `json:"last_sender,omitempty"`
	UnreadCount     int       `json:"unread_count"`
	Archived        bool      `json:"archived"`
	Muted           bool      `json:"muted"`
}

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	FromMe    bool      `json:"from_me"`
	Read      bool      `json:"read"`
	Type      string    `json:"type"`
	MediaURL  string    `json:"media_url,omitempty"`
	MimeType  string    `json:"mime_type,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	QuotedID  string    `json:"quoted_id,omitempty"`
	Emoji     string    `json:"emoji,omitempty"`
}

// ConnectionStatus is the bridge's view of the session.
type ConnectionStatus struct {
	Status   string `json:"status"`
	LoggedIn bool   `json:"logged_in"`
	Error    string `json:"error,omitempty"`
}

// PairingEvent is one element of the GetPairingQR stream.
type PairingEvent struct {
	Event       string `json:"event"` // "code", "timeout", "success", "error"
	Code        string `json:"code,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Event is one element of the StreamEvents stream.
type Event struct {
	Type    string            `json:"type"`
	Message *Message          `json:"message,omitempty"`
	Chat    *Chat             `json:"chat,omitempty"`
	Status  *ConnectionStatus `json:"status,omitempty"`
}

type getChatsRequest struct {
	Limit           int  `json:"limit"`
	Offset          int  `json:"offset"`
	IncludeArchived bool `json:"include_archived"`
}

type getChatsResponse struct {
	Chats []Chat `json:"chats"`
}

type getChatRequest struct {
	ChatID string `json:"chat_id"`
}

type getChatResponse struct {
	Chat Chat `json:"chat"`
}

type getMessagesRequest struct {
	ChatID   string `json:"chat_id"`
	Limit    int    `json:"limit"`
	BeforeID string `json:"before_id,omitempty"`
	AfterID  string `json:"after_id,omitempty"`
}

type getMessagesResponse struct {
	Messages []Message `json:"messages"`
}

type sendMessageRequest struct {
	ChatID   string `json:"chat_id"`
	Text     string `json:"text"`
	QuotedID string `json:"quoted_id,omitempty"`
}

type sendMessageResponse struct {
	Message Message `json:"message"`
}

type sendReactionRequest struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type markAsReadRequest struct {
	ChatID     string   `json:"chat_id"`
	MessageIDs []string `json:"message_ids"`
}

type pairWithCodeRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type pairWithCodeResponse struct {
	Code string `json:"code"`
}

type openStreamRequest struct {
	StreamID string   `json:"stream_id"`
	Types    []string `json:"types,omitempty"`
}

type streamDataParams struct {
	StreamID string          `json:"stream_id"`
	Payload  json.RawMessage `json:"payload"`
}

type streamEndParams struct {
	StreamID string `json:"stream_id"`
	Message  string `json:"message,omitempty"`
}
