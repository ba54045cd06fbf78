package stages

import (
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"telepipe/internal/logging"
	"telepipe/internal/pipeline"
	"telepipe/internal/resources"
	"telepipe/internal/services"
	"telepipe/internal/warehouse"
)

// Loader ingests raw snapshot files into the warehouse's append-only raw
// tables. It prefers the file list the scrape stage handed over in its
// payload; without one (manual backfill runs) it walks the snapshot tree.
type Loader struct {
	store  *warehouse.Store
	logger *slog.Logger
}

// NewLoader builds the load stage over the given warehouse.
func NewLoader(store *warehouse.Store) *Loader {
	return &Loader{store: store, logger: logging.NewNop()}
}

// SetLogger implements stage.LoggerAware.
func (l *Loader) SetLogger(logger *slog.Logger) {
	if logger != nil {
		l.logger = logger
	}
}

func (l *Loader) Run(ctx context.Context, input pipeline.Payload, res resources.Bundle) pipeline.Result {
	messageFiles := payloadStrings(input.Data["message_files"])
	mediaFiles := payloadStrings(input.Data["media_files"])
	if len(messageFiles) == 0 && len(mediaFiles) == 0 {
		var err error
		messageFiles, mediaFiles, err = findSnapshots(res.RawMessagesDir)
		if err != nil {
			return pipeline.Failure(services.Wrap(services.ErrTransient, "load", "scan snapshots", err.Error(), err))
		}
	}
	if len(messageFiles) == 0 && len(mediaFiles) == 0 {
		return pipeline.Skip("no snapshot files to load")
	}

	var loadedMsgs, loadedMedia int
	for _, path := range messageFiles {
		if err := ctx.Err(); err != nil {
			return pipeline.Failure(err)
		}
		count, err := l.loadMessageFile(ctx, path)
		if err != nil {
			return pipeline.Failure(err)
		}
		loadedMsgs += count
	}
	for _, path := range mediaFiles {
		if err := ctx.Err(); err != nil {
			return pipeline.Failure(err)
		}
		count, err := l.loadMediaFile(ctx, path)
		if err != nil {
			return pipeline.Failure(err)
		}
		loadedMedia += count
	}

	l.logger.Info("snapshots loaded",
		logging.Int("message_files", len(messageFiles)),
		logging.Int("messages", loadedMsgs),
		logging.Int("media", loadedMedia),
	)
	return pipeline.Success(map[string]any{
		"message_files": len(messageFiles),
		"media_files":   len(mediaFiles),
		"messages":      loadedMsgs,
		"media":         loadedMedia,
	})
}

func (l *Loader) loadMessageFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "load", "read snapshot", err.Error(), err)
	}

	var snap messageSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, services.Wrap(services.ErrValidation, "load", "parse snapshot", path+": "+err.Error(), err)
	}
	channel := snap.Channel
	if channel == "" {
		channel = channelFromPath(path)
	}

	rows := make([]warehouse.RawMessage, 0, len(snap.Messages))
	for _, doc := range snap.Messages {
		rows = append(rows, warehouse.RawMessage{
			Channel:     channel,
			MessageDate: documentDate(doc),
			Data:        string(doc),
		})
	}
	count, err := l.store.InsertRawMessages(ctx, rows)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "load", "insert raw messages", err.Error(), err)
	}
	return count, nil
}

func (l *Loader) loadMediaFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "load", "read snapshot", err.Error(), err)
	}

	var snap mediaSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, services.Wrap(services.ErrValidation, "load", "parse snapshot", path+": "+err.Error(), err)
	}
	channel := snap.Channel
	if channel == "" {
		channel = channelFromPath(path)
	}

	rows := make([]warehouse.RawMedia, 0, len(snap.Media))
	for _, info := range snap.Media {
		doc, err := json.Marshal(info)
		if err != nil {
			return 0, services.Wrap(services.ErrValidation, "load", "encode media info", err.Error(), err)
		}
		rows = append(rows, warehouse.RawMedia{
			Channel:   channel,
			MediaDate: info.Date,
			Data:      string(doc),
		})
	}
	count, err := l.store.InsertRawMedia(ctx, rows)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "load", "insert raw media", err.Error(), err)
	}
	return count, nil
}

// findSnapshots walks the snapshot tree collecting message and media files.
func findSnapshots(base string) ([]string, []string, error) {
	var messageFiles, mediaFiles []string
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == base {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		switch {
		case strings.HasPrefix(d.Name(), "messages_"):
			messageFiles = append(messageFiles, path)
		case strings.HasPrefix(d.Name(), "media_info_"):
			mediaFiles = append(mediaFiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return messageFiles, mediaFiles, nil
}

// channelFromPath extracts a channel name from a snapshot path shaped
// <base>/<date>/<channel>/<file>.
func channelFromPath(path string) string {
	return filepath.Base(filepath.Dir(path))
}

// documentDate pulls the message date out of a wire document without decoding
// the media payload.
func documentDate(doc json.RawMessage) time.Time {
	var probe struct {
		Date time.Time `json:"date"`
	}
	if err := json.Unmarshal(doc, &probe); err != nil {
		return time.Time{}
	}
	return probe.Date
}
