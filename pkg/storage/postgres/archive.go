package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/stacklight/wabridge/pkg/messaging"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	provider    TEXT NOT NULL,
	id          TEXT NOT NULL,
	chat_id     TEXT NOT NULL,
	sender_id   TEXT NOT NULL,
	text        TEXT NOT NULL DEFAULT '',
	timestamp   TIMESTAMPTZ NOT NULL,
	from_me     BOOLEAN NOT NULL DEFAULT FALSE,
	read        BOOLEAN NOT NULL DEFAULT FALSE,
	type        TEXT NOT NULL DEFAULT 'text',
	media_url   TEXT NOT NULL DEFAULT '',
	mime_type   TEXT NOT NULL DEFAULT '',
	filename    TEXT NOT NULL DEFAULT '',
	quoted_id   TEXT NOT NULL DEFAULT '',
	emoji       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (provider, id)
);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(provider, chat_id, timestamp);
`

// Archive is the postgres-backed message archive.
type Archive struct {
	db *sql.DB
}

// New connects to postgres and ensures the archive schema exists.
func New(databaseURL string) (*Archive, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("postgres archive requires a database URL")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping archive database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create archive schema: %w", err)
	}

	return &Archive{db: db}, nil
}

func (a *Archive) SaveMessage(ctx context.Context, provider string, msg messaging.Message) error {
	media := messaging.MediaRef{}
	if msg.Media != nil {
		media = *msg.Media
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO messages
			(provider, id, chat_id, sender_id, text, timestamp, from_me, read, type,
			 media_url, mime_type, filename, quoted_id, emoji)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (provider, id) DO UPDATE SET read = EXCLUDED.read`,
		provider, msg.ID, messaging.FormatJID(msg.ChatID), msg.SenderID, msg.Text,
		msg.Timestamp, msg.FromMe, msg.Read, string(msg.Type),
		media.URL, media.MimeType, media.Filename, msg.QuotedID, msg.Reaction,
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (a *Archive) RecentMessages(ctx context.Context, provider string, limit int) ([]messaging.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, chat_id, sender_id, text, timestamp, from_me, read, type,
		       media_url, mime_type, filename, quoted_id, emoji
		FROM messages
		WHERE provider = $1
		ORDER BY timestamp DESC
		LIMIT $2`, provider, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []messaging.Message
	for rows.Next() {
		var msg messaging.Message
		var chatID string
		var media messaging.MediaRef
		var msgType string
		if err := rows.Scan(&msg.ID, &chatID, &msg.SenderID, &msg.Text, &msg.Timestamp,
			&msg.FromMe, &msg.Read, &msgType,
			&media.URL, &media.MimeType, &media.Filename, &msg.QuotedID, &msg.Reaction); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Type = messaging.MessageType(msgType)
		msg.ChatID, _ = messaging.ParseJID(chatID)
		if media.URL != "" {
			msg.Media = &media
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (a *Archive) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *Archive) Close() error {
	return a.db.Close()
}
