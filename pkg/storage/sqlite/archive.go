package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/stacklight/wabridge/pkg/messaging"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	provider    TEXT NOT NULL,
	id          TEXT NOT NULL,
	chat_id     TEXT NOT NULL,
	sender_id   TEXT NOT NULL,
	text        TEXT NOT NULL DEFAULT '',
	timestamp   TIMESTAMP NOT NULL,
	from_me     BOOLEAN NOT NULL DEFAULT 0,
	read        BOOLEAN NOT NULL DEFAULT 0,
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

// Archive is the sqlite-backed message archive.
type Archive struct {
	db *sql.DB
}

// New opens (creating if needed) the archive database at path.
func New(path string) (*Archive, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite archive path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}
	// Serialize access through one connection to avoid SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, id) DO UPDATE SET read = excluded.read`,
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
		WHERE provider = ?
		ORDER BY timestamp DESC
		LIMIT ?`, provider, limit)
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
