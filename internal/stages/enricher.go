package stages

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"telepipe/internal/logging"
	"telepipe/internal/pipeline"
	"telepipe/internal/resources"
	"telepipe/internal/services"
	"telepipe/internal/warehouse"
)

// Enricher runs an external object-detection command over the scraped media
// directory and loads its CSV output into image_detections. The detector is
// an optional dependency: when the command is unconfigured or not installed
// the stage skips instead of failing.
type Enricher struct {
	store  *warehouse.Store
	logger *slog.Logger
}

// NewEnricher builds the enrich stage over the given warehouse.
func NewEnricher(store *warehouse.Store) *Enricher {
	return &Enricher{store: store, logger: logging.NewNop()}
}

// SetLogger implements stage.LoggerAware.
func (e *Enricher) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

func (e *Enricher) Run(ctx context.Context, input pipeline.Payload, res resources.Bundle) pipeline.Result {
	command := strings.TrimSpace(res.Detector.Command)
	if command == "" {
		return pipeline.Skip("no detector command configured")
	}
	if _, err := exec.LookPath(command); err != nil {
		return pipeline.Skip(fmt.Sprintf("detector command %s not installed", command))
	}

	outputCSV := filepath.Join(res.DataDir, "intermediate",
		fmt.Sprintf("image_detections_%s.csv", time.Now().UTC().Format("20060102_150405")))
	if err := os.MkdirAll(filepath.Dir(outputCSV), 0o755); err != nil {
		return pipeline.Failure(services.Wrap(services.ErrTransient, "enrich", "prepare output", err.Error(), err))
	}

	args := []string{"--input", res.RawMediaDir, "--output", outputCSV}
	if res.Detector.Model != "" {
		args = append(args, "--model", res.Detector.Model)
	}

	cmd := exec.CommandContext(ctx, command, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return pipeline.Failure(ctx.Err())
		}
		detail := strings.TrimSpace(string(output))
		if len(detail) > 500 {
			detail = detail[:500]
		}
		return pipeline.Failure(services.Wrap(services.ErrTransient, "enrich", "run detector",
			fmt.Sprintf("%v: %s", err, detail), err))
	}

	detections, err := readDetectionsCSV(outputCSV)
	if err != nil {
		return pipeline.Failure(err)
	}
	if len(detections) == 0 {
		e.logger.Info("detector produced no detections")
		return pipeline.Success(map[string]any{"detections": 0})
	}

	e.resolveMessages(ctx, detections)
	count, err := e.store.InsertDetections(ctx, detections)
	if err != nil {
		return pipeline.Failure(services.Wrap(services.ErrTransient, "enrich", "store detections", err.Error(), err))
	}

	e.logger.Info("detections stored", logging.Int("detections", count))
	return pipeline.Success(map[string]any{"detections": count, "output_csv": outputCSV})
}

// readDetectionsCSV parses the detector's output: a header row followed by
// file_path, detected_object_class, confidence_score columns.
func readDetectionsCSV(path string) ([]warehouse.Detection, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "enrich", "read detections",
			fmt.Sprintf("detector wrote no output at %s", path), err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrValidation, "enrich", "read detections", err.Error(), err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, required := range []string{"file_path", "detected_object_class", "confidence_score"} {
		if _, ok := columns[required]; !ok {
			return nil, services.Wrap(services.ErrValidation, "enrich", "read detections",
				"missing column "+required, nil)
		}
	}

	var detections []warehouse.Detection
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "enrich", "read detections", err.Error(), err)
		}

		confidence, err := strconv.ParseFloat(strings.TrimSpace(record[columns["confidence_score"]]), 64)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "enrich", "read detections",
				"bad confidence score: "+record[columns["confidence_score"]], err)
		}
		detections = append(detections, warehouse.Detection{
			FilePath:   strings.TrimSpace(record[columns["file_path"]]),
			Class:      strings.TrimSpace(record[columns["detected_object_class"]]),
			Confidence: confidence,
		})
	}
	return detections, nil
}

// resolveMessages links detections to fct_messages rows. Media files are laid
// out <dir>/<channel>/<message_id>.<ext>; detections whose path doesn't match
// stay unlinked but are still recorded.
func (e *Enricher) resolveMessages(ctx context.Context, detections []warehouse.Detection) {
	channelIDs := make(map[string]string)
	for i := range detections {
		channel := filepath.Base(filepath.Dir(detections[i].FilePath))
		stem := strings.TrimSuffix(filepath.Base(detections[i].FilePath), filepath.Ext(detections[i].FilePath))
		messageID, err := strconv.ParseInt(stem, 10, 64)
		if err != nil {
			continue
		}

		id, ok := channelIDs[channel]
		if !ok {
			id, err = e.store.LookupChannelID(ctx, channel)
			if err != nil {
				continue
			}
			channelIDs[channel] = id
		}
		if id == "" {
			continue
		}
		detections[i].MessageID = messageID
		detections[i].ChannelID = id
	}
}
