package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"telepipe/internal/logging"
	"telepipe/internal/pipeline"
	"telepipe/internal/platform"
	"telepipe/internal/resources"
	"telepipe/internal/services"
)

// Scraper fetches recent messages from every configured channel and writes
// them to raw snapshot files for the load stage. One gateway failure fails
// the whole stage: partial scrapes are not committed downstream.
type Scraper struct {
	newClient func(resources.PlatformResource) platform.Client
	now       func() time.Time
	logger    *slog.Logger
}

// NewScraper builds the scrape stage backed by the HTTP gateway client.
func NewScraper() *Scraper {
	return &Scraper{
		newClient: platform.NewGatewayClient,
		now:       time.Now,
		logger:    logging.NewNop(),
	}
}

// SetLogger implements stage.LoggerAware.
func (s *Scraper) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *Scraper) Run(ctx context.Context, input pipeline.Payload, res resources.Bundle) pipeline.Result {
	if len(res.Platform.Channels) == 0 {
		return pipeline.Failure(services.Wrap(services.ErrConfiguration, "scrape", "select channels",
			"no channels configured", nil))
	}

	client := s.newClient(res.Platform)
	scrapeTime := s.now().UTC()

	var (
		messageFiles []string
		mediaFiles   []string
		totalMsgs    int
		totalMedia   int
	)
	for _, channel := range res.Platform.Channels {
		if err := ctx.Err(); err != nil {
			return pipeline.Failure(err)
		}

		messages, err := client.Messages(ctx, channel, res.Platform.MessageLimit)
		if err != nil {
			return pipeline.Failure(err)
		}

		msgFile, mediaFile, mediaCount, err := s.writeChannelSnapshot(res, channel, scrapeTime, messages)
		if err != nil {
			return pipeline.Failure(services.Wrap(services.ErrTransient, "scrape", "write snapshot", err.Error(), err))
		}

		messageFiles = append(messageFiles, msgFile)
		if mediaFile != "" {
			mediaFiles = append(mediaFiles, mediaFile)
		}
		totalMsgs += len(messages)
		totalMedia += mediaCount

		s.logger.Info("channel scraped",
			logging.String("channel", channel),
			logging.Int("messages", len(messages)),
			logging.Int("media", mediaCount),
		)
	}

	return pipeline.Success(map[string]any{
		"channels":      len(res.Platform.Channels),
		"messages":      totalMsgs,
		"media":         totalMedia,
		"message_files": messageFiles,
		"media_files":   mediaFiles,
	})
}

// writeChannelSnapshot persists one channel's scrape: a messages file always,
// and a media inventory file when any message carried media.
func (s *Scraper) writeChannelSnapshot(res resources.Bundle, channel string, scrapeTime time.Time, messages []platform.Message) (string, string, int, error) {
	dir, err := snapshotDir(res.RawMessagesDir, channel, scrapeTime)
	if err != nil {
		return "", "", 0, err
	}
	stamp := scrapeTime.Format("20060102_150405")

	docs := make([]json.RawMessage, 0, len(messages))
	var media []mediaInfo
	for _, msg := range messages {
		doc, err := platform.EncodeMessage(msg)
		if err != nil {
			return "", "", 0, fmt.Errorf("encode message %d: %w", msg.ID, err)
		}
		docs = append(docs, doc)

		if info, ok := mediaInfoFor(msg); ok {
			media = append(media, info)
		}
	}

	msgFile := filepath.Join(dir, fmt.Sprintf("messages_%s.json", stamp))
	err = writeSnapshotFile(msgFile, messageSnapshot{
		Channel:      channel,
		ScrapeTime:   scrapeTime,
		MessageCount: len(docs),
		Messages:     docs,
	})
	if err != nil {
		return "", "", 0, err
	}

	var mediaFile string
	if len(media) > 0 {
		mediaFile = filepath.Join(dir, fmt.Sprintf("media_info_%s.json", stamp))
		err = writeSnapshotFile(mediaFile, mediaSnapshot{
			Channel:    channel,
			ScrapeTime: scrapeTime,
			MediaCount: len(media),
			Media:      media,
		})
		if err != nil {
			return "", "", 0, err
		}
	}
	return msgFile, mediaFile, len(media), nil
}

func mediaInfoFor(msg platform.Message) (mediaInfo, bool) {
	info := mediaInfo{
		MessageID: msg.ID,
		Date:      msg.Date,
		MediaType: msg.Media.MediaType(),
	}
	switch media := msg.Media.(type) {
	case platform.PhotoMedia:
		info.FilePath = media.FilePath
	case platform.DocumentMedia:
		info.MimeType = media.MimeType
		info.FileSize = media.FileSize
		info.FileName = media.FileName
		info.FilePath = media.FilePath
	case platform.VideoMedia:
		info.MimeType = media.MimeType
		info.FileSize = media.FileSize
		info.FilePath = media.FilePath
	default:
		return mediaInfo{}, false
	}
	return info, true
}
