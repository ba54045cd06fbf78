// Package stages contains the four concrete pipeline stages: Scraper,
// Loader, Transformer, and Enricher. Each implements stage.Handler and
// communicates with its downstream neighbor through the stage payload plus
// raw snapshot files on disk.
package stages

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// messageSnapshot is the on-disk format of one scrape of one channel. The
// messages array holds the gateway wire documents verbatim so the loader can
// store them without re-encoding.
type messageSnapshot struct {
	Channel      string            `json:"channel"`
	ScrapeTime   time.Time         `json:"scrape_time"`
	MessageCount int               `json:"message_count"`
	Messages     []json.RawMessage `json:"messages"`
}

// mediaSnapshot is the on-disk format of one scrape's media inventory.
type mediaSnapshot struct {
	Channel    string      `json:"channel"`
	ScrapeTime time.Time   `json:"scrape_time"`
	MediaCount int         `json:"media_count"`
	Media      []mediaInfo `json:"media"`
}

type mediaInfo struct {
	MessageID int64     `json:"message_id"`
	Date      time.Time `json:"date"`
	MediaType string    `json:"media_type"`
	MimeType  string    `json:"mime_type,omitempty"`
	FileSize  int64     `json:"file_size,omitempty"`
	FileName  string    `json:"file_name,omitempty"`
	FilePath  string    `json:"file_path,omitempty"`
}

// snapshotDir returns the directory for one channel's snapshots on one day,
// creating it if needed: <base>/<YYYY-MM-DD>/<channel>.
func snapshotDir(base, channel string, day time.Time) (string, error) {
	dir := filepath.Join(base, day.UTC().Format("2006-01-02"), channel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}
	return dir, nil
}

func writeSnapshotFile(path string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}

// payloadStrings extracts a string slice from a payload data value, tolerating
// the []any shape that a JSON round trip produces.
func payloadStrings(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
