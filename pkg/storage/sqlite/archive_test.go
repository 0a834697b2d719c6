package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklight/wabridge/pkg/messaging"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := New(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func testMessage(id string, ts time.Time) messaging.Message {
	chatID, _ := messaging.ParseJID("123@s.whatsapp.net")
	return messaging.Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  "456@s.whatsapp.net",
		Text:      "hello " + id,
		Timestamp: ts,
		Type:      messaging.MessageText,
	}
}

func TestSaveAndRecentMessages(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"m1", "m2", "m3"} {
		msg := testMessage(id, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, a.SaveMessage(ctx, "whatsapp", msg))
	}

	msgs, err := a.RecentMessages(ctx, "whatsapp", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	// Newest first.
	assert.Equal(t, "m3", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Equal(t, "123", msgs[0].ChatID.User)
	assert.Equal(t, "hello m3", msgs[0].Text)
}

func TestSaveMessageUpsertsReadFlag(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	msg := testMessage("m1", time.Now().UTC())
	require.NoError(t, a.SaveMessage(ctx, "whatsapp", msg))

	msg.Read = true
	require.NoError(t, a.SaveMessage(ctx, "whatsapp", msg))

	msgs, err := a.RecentMessages(ctx, "whatsapp", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Read)
}

func TestMediaRoundTrip(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	msg := testMessage("m1", time.Now().UTC())
	msg.Type = messaging.MessageImage
	msg.Media = &messaging.MediaRef{
		URL:      "https://example/blob",
		MimeType: "image/jpeg",
		Filename: "photo.jpg",
	}
	require.NoError(t, a.SaveMessage(ctx, "whatsapp", msg))

	msgs, err := a.RecentMessages(ctx, "whatsapp", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Media)
	assert.Equal(t, "https://example/blob", msgs[0].Media.URL)
	assert.Equal(t, messaging.MessageImage, msgs[0].Type)
}

func TestRecentMessagesScopedByProvider(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	require.NoError(t, a.SaveMessage(ctx, "whatsapp", testMessage("m1", time.Now().UTC())))
	require.NoError(t, a.SaveMessage(ctx, "signal", testMessage("m2", time.Now().UTC())))

	msgs, err := a.RecentMessages(ctx, "whatsapp", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestPing(t *testing.T) {
	a := openTestArchive(t)
	assert.NoError(t, a.Ping(context.Background()))
}
