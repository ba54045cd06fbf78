// Package platform holds the messaging-platform boundary: the message and
// media types the pipeline consumes, decoded exactly once from the gateway's
// wire format, and the client used to fetch them.
package platform

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChannelInfo describes a public channel as reported by the gateway.
type ChannelInfo struct {
	ID               int64  `json:"id"`
	Title            string `json:"title"`
	Username         string `json:"username"`
	ParticipantCount int    `json:"participants_count"`
	Verified         bool   `json:"verified"`
	Description      string `json:"description"`
}

// Message is one channel message with its media payload already decoded.
type Message struct {
	ID      int64
	Channel string
	Date    time.Time
	Text    string
	Views   int
	Media   MediaPayload
}

// HasMedia reports whether the message carries a concrete media payload.
func (m Message) HasMedia() bool {
	_, none := m.Media.(NoMedia)
	return m.Media != nil && !none
}

// MediaPayload is the closed set of media variants a message can carry.
// Exactly one of PhotoMedia, DocumentMedia, VideoMedia, or NoMedia.
type MediaPayload interface {
	MediaType() string
}

// PhotoMedia is an inline photo attachment.
type PhotoMedia struct {
	MediaID  int64
	FilePath string
}

func (PhotoMedia) MediaType() string { return "photo" }

// DocumentMedia is a file attachment with a mime type.
type DocumentMedia struct {
	MediaID  int64
	MimeType string
	FileSize int64
	FileName string
	FilePath string
}

func (DocumentMedia) MediaType() string { return "document" }

// VideoMedia is a video attachment.
type VideoMedia struct {
	MediaID  int64
	MimeType string
	FileSize int64
	Duration time.Duration
	FilePath string
}

func (VideoMedia) MediaType() string { return "video" }

// NoMedia marks a text-only message.
type NoMedia struct{}

func (NoMedia) MediaType() string { return "none" }

// wireMessage is the gateway's JSON shape for a message.
type wireMessage struct {
	ID    int64      `json:"id"`
	Date  time.Time  `json:"date"`
	Text  string     `json:"text"`
	Views int        `json:"views"`
	Media *wireMedia `json:"media"`
}

// wireMedia is the gateway's JSON shape for a media payload, discriminated by
// the type field.
type wireMedia struct {
	Type        string  `json:"type"`
	MediaID     int64   `json:"media_id"`
	MimeType    string  `json:"mime_type"`
	FileSize    int64   `json:"file_size"`
	FileName    string  `json:"file_name"`
	FilePath    string  `json:"file_path"`
	DurationSec float64 `json:"duration_seconds"`
}

// DecodeMessage parses one gateway message document for the given channel.
func DecodeMessage(channel string, data []byte) (Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return wire.toMessage(channel)
}

func (w wireMessage) toMessage(channel string) (Message, error) {
	media, err := decodeMedia(w.Media)
	if err != nil {
		return Message{}, fmt.Errorf("message %d: %w", w.ID, err)
	}
	return Message{
		ID:      w.ID,
		Channel: channel,
		Date:    w.Date.UTC(),
		Text:    w.Text,
		Views:   w.Views,
		Media:   media,
	}, nil
}

func decodeMedia(w *wireMedia) (MediaPayload, error) {
	if w == nil || w.Type == "" || w.Type == "none" {
		return NoMedia{}, nil
	}
	switch w.Type {
	case "photo":
		return PhotoMedia{MediaID: w.MediaID, FilePath: w.FilePath}, nil
	case "document":
		return DocumentMedia{
			MediaID:  w.MediaID,
			MimeType: w.MimeType,
			FileSize: w.FileSize,
			FileName: w.FileName,
			FilePath: w.FilePath,
		}, nil
	case "video":
		return VideoMedia{
			MediaID:  w.MediaID,
			MimeType: w.MimeType,
			FileSize: w.FileSize,
			Duration: time.Duration(w.DurationSec * float64(time.Second)),
			FilePath: w.FilePath,
		}, nil
	default:
		return nil, fmt.Errorf("unknown media type %q", w.Type)
	}
}

// EncodeMessage renders a message back to the wire shape. Used when writing
// raw snapshot files, so loads see the same document format the gateway sent.
func EncodeMessage(m Message) ([]byte, error) {
	wire := wireMessage{
		ID:    m.ID,
		Date:  m.Date,
		Text:  m.Text,
		Views: m.Views,
	}
	switch media := m.Media.(type) {
	case PhotoMedia:
		wire.Media = &wireMedia{Type: "photo", MediaID: media.MediaID, FilePath: media.FilePath}
	case DocumentMedia:
		wire.Media = &wireMedia{
			Type:     "document",
			MediaID:  media.MediaID,
			MimeType: media.MimeType,
			FileSize: media.FileSize,
			FileName: media.FileName,
			FilePath: media.FilePath,
		}
	case VideoMedia:
		wire.Media = &wireMedia{
			Type:        "video",
			MediaID:     media.MediaID,
			MimeType:    media.MimeType,
			FileSize:    media.FileSize,
			FilePath:    media.FilePath,
			DurationSec: media.Duration.Seconds(),
		}
	}
	return json.Marshal(wire)
}
