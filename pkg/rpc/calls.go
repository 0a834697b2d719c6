package rpc

import "context"

// Unary operations. Each is one round-trip; failures are returned to the
// caller without tearing down the transport.

func (c *Client) Connect(ctx context.Context) error {
	return c.call(ctx, "Connect", nil, nil)
}

func (c *Client) Disconnect(ctx context.Context) error {
	return c.call(ctx, "Disconnect", nil, nil)
}

func (c *Client) GetConnectionStatus(ctx context.Context) (*ConnectionStatus, error) {
	var status ConnectionStatus
	if err := c.call(ctx, "GetConnectionStatus", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) PairWithCode(ctx context.Context, phoneNumber string) (string, error) {
	var resp pairWithCodeResponse
	if err := c.call(ctx, "PairWithCode", pairWithCodeRequest{PhoneNumber: phoneNumber}, &resp); err != nil {
		return "", err
	}
	return resp.Code, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.call(ctx, "Logout", nil, nil)
}

func (c *Client) GetChats(ctx context.Context, limit, offset int, includeArchived bool) ([]Chat, error) {
	var resp getChatsResponse
	req := getChatsRequest{Limit: limit, Offset: offset, IncludeArchived: includeArchived}
	if err := c.call(ctx, "GetChats", req, &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

func (c *Client) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	var resp getChatResponse
	if err := c.call(ctx, "GetChat", getChatRequest{ChatID: chatID}, &resp); err != nil {
		return nil, err
	}
	return &resp.Chat, nil
}

func (c *Client) GetMessages(ctx context.Context, chatID string, limit int, beforeID, afterID string) ([]Message, error) {
	var resp getMessagesResponse
	req := getMessagesRequest{ChatID: chatID, Limit: limit, BeforeID: beforeID, AfterID: afterID}
	if err := c.call(ctx, "GetMessages", req, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID, text, quotedID string) (*Message, error) {
	var resp sendMessageResponse
	req := sendMessageRequest{ChatID: chatID, Text: text, QuotedID: quotedID}
	if err := c.call(ctx, "SendMessage", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

func (c *Client) SendReaction(ctx context.Context, chatID, messageID, emoji string) error {
	req := sendReactionRequest{ChatID: chatID, MessageID: messageID, Emoji: emoji}
	return c.call(ctx, "SendReaction", req, nil)
}

func (c *Client) MarkAsRead(ctx context.Context, chatID string, messageIDs []string) error {
	req := markAsReadRequest{ChatID: chatID, MessageIDs: messageIDs}
	return c.call(ctx, "MarkAsRead", req, nil)
}

// GetPairingQR opens the QR pairing stream. The sequence is finite: it ends
// with success, timeout, error, or consumer cancellation.
func (c *Client) GetPairingQR(ctx context.Context) (<-chan StreamItem, error) {
	return c.openStream(ctx, "GetPairingQR", nil)
}

// StreamEvents opens the domain event stream, filtered bridge-side by the
// requested types. The sequence is effectively infinite.
func (c *Client) StreamEvents(ctx context.Context, types []string) (<-chan StreamItem, error) {
	return c.openStream(ctx, "StreamEvents", types)
}
