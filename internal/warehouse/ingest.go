package warehouse

import (
	"context"
	"fmt"
	"time"
)

// RawMessage is one message document as scraped, kept verbatim for replay.
type RawMessage struct {
	Channel     string
	MessageDate time.Time
	Data        string
}

// RawMedia is one media-info document as scraped.
type RawMedia struct {
	Channel   string
	MediaDate time.Time
	Data      string
}

// InsertRawMessages appends scraped message documents. The raw tables are
// append-only; deduplication happens when fct_messages is rebuilt.
func (s *Store) InsertRawMessages(ctx context.Context, messages []RawMessage) (int, error) {
	ctx = ensureContext(ctx)
	if len(messages) == 0 {
		return 0, nil
	}

	loadedAt := formatTime(time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin raw message tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO raw_messages (channel_username, message_date, message_data, loaded_at)
         VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare raw message insert: %w", err)
	}
	defer stmt.Close()

	for _, msg := range messages {
		var messageDate any
		if !msg.MessageDate.IsZero() {
			messageDate = formatTime(msg.MessageDate)
		}
		if _, err := stmt.ExecContext(ctx, msg.Channel, messageDate, msg.Data, loadedAt); err != nil {
			return 0, fmt.Errorf("insert raw message for %s: %w", msg.Channel, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit raw messages: %w", err)
	}
	return len(messages), nil
}

// InsertRawMedia appends scraped media-info documents.
func (s *Store) InsertRawMedia(ctx context.Context, media []RawMedia) (int, error) {
	ctx = ensureContext(ctx)
	if len(media) == 0 {
		return 0, nil
	}

	loadedAt := formatTime(time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin raw media tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO raw_media (channel_username, media_date, media_data, loaded_at)
         VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare raw media insert: %w", err)
	}
	defer stmt.Close()

	for _, item := range media {
		var mediaDate any
		if !item.MediaDate.IsZero() {
			mediaDate = formatTime(item.MediaDate)
		}
		if _, err := stmt.ExecContext(ctx, item.Channel, mediaDate, item.Data, loadedAt); err != nil {
			return 0, fmt.Errorf("insert raw media for %s: %w", item.Channel, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit raw media: %w", err)
	}
	return len(media), nil
}

// EnsureChannels registers the surrogate key mapping for each channel name.
func (s *Store) EnsureChannels(ctx context.Context, names []string) error {
	ctx = ensureContext(ctx)
	for _, name := range names {
		if name == "" {
			continue
		}
		err := s.execWithRetry(ctx,
			`INSERT INTO channels (channel_id, channel_name) VALUES (?, ?)
             ON CONFLICT (channel_name) DO NOTHING`,
			ChannelID(name), name)
		if err != nil {
			return fmt.Errorf("register channel %s: %w", name, err)
		}
	}
	return nil
}
