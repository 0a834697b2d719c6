package storage

import (
	"context"

	"github.com/stacklight/wabridge/pkg/messaging"
)

// Archive persists the message traffic observed on the event bus. Chats and
// messages remain transient read results in the provider itself; the archive
// is an append-only host-side record.
type Archive interface {
	SaveMessage(ctx context.Context, provider string, msg messaging.Message) error
	RecentMessages(ctx context.Context, provider string, limit int) ([]messaging.Message, error)

	Ping(ctx context.Context) error
	Close() error
}

// Config selects and parameterizes the archive backend.
type Config struct {
	Type        string // "sqlite" or "postgres"
	FilePath    string // sqlite database file
	DatabaseURL string // postgres connection string
}
