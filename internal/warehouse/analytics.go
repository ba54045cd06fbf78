package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ActivityBucket is one day of channel activity.
type ActivityBucket struct {
	Date         string `json:"date"`
	MessageCount int    `json:"message_count"`
}

// FactMessage is one row of the analytical message table.
type FactMessage struct {
	MessageID   int64      `json:"message_id"`
	ChannelID   string     `json:"channel_id"`
	MessageText string     `json:"message_text"`
	MediaDate   *time.Time `json:"media_date"`
	HasImage    bool       `json:"has_image"`
}

// Detection is one object-detection result for a scraped image.
type Detection struct {
	FilePath   string
	Class      string
	Confidence float64
	MessageID  int64
	ChannelID  string
}

// RebuildFactMessages derives fct_messages from the raw message documents:
// it registers surrogate keys for every channel seen in the raw data, then
// rebuilds the analytical table. Re-scraped messages dedupe on
// (message_id, channel_id) with the most recently loaded document winning.
func (s *Store) RebuildFactMessages(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)

	names, err := s.rawChannelNames(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.EnsureChannels(ctx, names); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transform tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM fct_messages"); err != nil {
		return 0, fmt.Errorf("clear fct_messages: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
        INSERT OR REPLACE INTO fct_messages (message_id, channel_id, message_text, media_date, has_image)
        SELECT CAST(json_extract(m.message_data, '$.id') AS INTEGER),
               c.channel_id,
               json_extract(m.message_data, '$.text'),
               m.message_date,
               CASE WHEN json_extract(m.message_data, '$.media.type') = 'photo' THEN 1 ELSE 0 END
        FROM raw_messages m
        JOIN channels c ON c.channel_name = m.channel_username
        WHERE json_extract(m.message_data, '$.id') IS NOT NULL
        ORDER BY m.loaded_at, m.id`)
	if err != nil {
		return 0, fmt.Errorf("rebuild fct_messages: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM fct_messages").Scan(&count); err != nil {
		return 0, fmt.Errorf("count fct_messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transform: %w", err)
	}
	return count, nil
}

func (s *Store) rawChannelNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT channel_username FROM raw_messages")
	if err != nil {
		return nil, fmt.Errorf("list raw channels: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan channel name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// LookupChannelID resolves a channel name to its surrogate key. Returns an
// empty string when the channel is unknown.
func (s *Store) LookupChannelID(ctx context.Context, name string) (string, error) {
	ctx = ensureContext(ctx)
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT channel_id FROM channels WHERE channel_name = ?", name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup channel %s: %w", name, err)
	}
	return id, nil
}

// ChannelActivity returns per-day message counts for a channel, oldest day
// first. A non-positive limit defaults to 10 days.
func (s *Store) ChannelActivity(ctx context.Context, channelID string, limit int) ([]ActivityBucket, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT DATE(media_date) AS day, COUNT(1)
        FROM fct_messages
        WHERE channel_id = ? AND media_date IS NOT NULL
        GROUP BY day
        ORDER BY day
        LIMIT ?`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("query channel activity: %w", err)
	}
	defer rows.Close()

	buckets := make([]ActivityBucket, 0, limit)
	for rows.Next() {
		var bucket ActivityBucket
		if err := rows.Scan(&bucket.Date, &bucket.MessageCount); err != nil {
			return nil, fmt.Errorf("scan activity bucket: %w", err)
		}
		buckets = append(buckets, bucket)
	}
	return buckets, rows.Err()
}

// SearchMessages returns every message whose text contains the query,
// case-insensitively, newest first. Callers paginate the full result so the
// reported count reflects all matches, not one page.
func (s *Store) SearchMessages(ctx context.Context, query string) ([]FactMessage, error) {
	ctx = ensureContext(ctx)

	rows, err := s.db.QueryContext(ctx, `
        SELECT message_id, channel_id, message_text, media_date, has_image
        FROM fct_messages
        WHERE message_text IS NOT NULL
          AND message_text != ''
          AND lower(message_text) LIKE '%' || lower(?) || '%'
        ORDER BY media_date DESC`, query)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var results []FactMessage
	for rows.Next() {
		var (
			msg       FactMessage
			text      sql.NullString
			mediaDate sql.NullString
			hasImage  int
		)
		if err := rows.Scan(&msg.MessageID, &msg.ChannelID, &text, &mediaDate, &hasImage); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		msg.MessageText = text.String
		msg.MediaDate = parseNullableTime(mediaDate)
		msg.HasImage = hasImage != 0
		results = append(results, msg)
	}
	return results, rows.Err()
}

// InsertDetections appends detection rows and flips the enrichment flag on
// the messages they resolve to.
func (s *Store) InsertDetections(ctx context.Context, detections []Detection) (int, error) {
	ctx = ensureContext(ctx)
	if len(detections) == 0 {
		return 0, nil
	}

	detectedAt := formatTime(time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin detection tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO image_detections (file_path, detected_object_class, confidence_score, message_id, channel_id, detected_at)
         VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare detection insert: %w", err)
	}
	defer stmt.Close()

	for _, det := range detections {
		if _, err := stmt.ExecContext(ctx, det.FilePath, det.Class, det.Confidence, det.MessageID, det.ChannelID, detectedAt); err != nil {
			return 0, fmt.Errorf("insert detection for %s: %w", det.FilePath, err)
		}
		if det.MessageID != 0 && det.ChannelID != "" {
			_, err := tx.ExecContext(ctx,
				`UPDATE fct_messages SET has_image = 1 WHERE message_id = ? AND channel_id = ?`,
				det.MessageID, det.ChannelID)
			if err != nil {
				return 0, fmt.Errorf("flag message %d: %w", det.MessageID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit detections: %w", err)
	}
	return len(detections), nil
}
