package stages

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"telepipe/internal/pipeline"
	"telepipe/internal/resources"
	"telepipe/internal/testsupport"
	"telepipe/internal/warehouse"
)

func TestEnricherSkipsWithoutCommand(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenWarehouse(t, cfg)
	bundle := resources.NewProvider(cfg).Snapshot()

	enricher := NewEnricher(store)
	result := enricher.Run(context.Background(), pipeline.Payload{}, bundle)
	if !result.Skipped() {
		t.Fatalf("result = %s, want skip with no detector configured", result.Outcome)
	}
}

func TestEnricherSkipsWhenCommandNotInstalled(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDetectorCommand("telepipe-detector-that-does-not-exist"))
	store := testsupport.MustOpenWarehouse(t, cfg)
	bundle := resources.NewProvider(cfg).Snapshot()

	enricher := NewEnricher(store)
	result := enricher.Run(context.Background(), pipeline.Payload{}, bundle)
	if !result.Skipped() {
		t.Fatalf("result = %s, want skip for missing detector binary", result.Outcome)
	}
	if result.SkipReason == "" {
		t.Error("skip reason should name the missing command")
	}
}

// writeStubDetector installs a shell script that writes a fixed detections
// CSV to the path given by --output.
func writeStubDetector(t *testing.T, csvBody string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub detector script requires a POSIX shell")
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "stub-detector")
	body := `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "--output" ]; then out="$2"; shift; fi
  shift
done
cat > "$out" <<'EOF'
` + csvBody + `EOF
`
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write stub detector: %v", err)
	}
	return script
}

func TestEnricherLoadsDetectionsAndLinksMessages(t *testing.T) {
	csvBody := `file_path,detected_object_class,confidence_score
/data/media/CheMed123/1.jpg,bottle,0.93
/data/media/CheMed123/1.jpg,person,0.40
/data/media/unrelated/notes.txt,box,0.50
`
	script := writeStubDetector(t, csvBody)

	cfg := testsupport.NewConfig(t, testsupport.WithDetectorCommand(script))
	store := testsupport.MustOpenWarehouse(t, cfg)
	bundle := resources.NewProvider(cfg).Snapshot()

	// Seed a fact row the detection should link to.
	ctx := context.Background()
	_, err := store.InsertRawMessages(ctx, []warehouse.RawMessage{{
		Channel:     "CheMed123",
		MessageDate: time.Date(2025, 7, 10, 8, 0, 0, 0, time.UTC),
		Data:        `{"id":1,"date":"2025-07-10T08:00:00Z","text":"syrup"}`,
	}})
	if err != nil {
		t.Fatalf("InsertRawMessages: %v", err)
	}
	if _, err := store.RebuildFactMessages(ctx); err != nil {
		t.Fatalf("RebuildFactMessages: %v", err)
	}

	enricher := NewEnricher(store)
	result := enricher.Run(ctx, pipeline.Payload{}, bundle)
	if !result.Succeeded() {
		t.Fatalf("enrich failed: %v", result.Err)
	}
	if got := result.Payload.Data["detections"]; got != 3 {
		t.Errorf("detections = %v, want 3", got)
	}

	hits, err := store.SearchMessages(ctx, "syrup")
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if len(hits) != 1 || !hits[0].HasImage {
		t.Fatalf("expected linked detection to flip has_image, got %+v", hits)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Detections != 3 {
		t.Errorf("stored detections = %d, want 3", stats.Detections)
	}
}

func TestEnricherFailsOnMalformedCSV(t *testing.T) {
	script := writeStubDetector(t, "not,a,detections\nheader,row,here\n")

	cfg := testsupport.NewConfig(t, testsupport.WithDetectorCommand(script))
	store := testsupport.MustOpenWarehouse(t, cfg)
	bundle := resources.NewProvider(cfg).Snapshot()

	enricher := NewEnricher(store)
	result := enricher.Run(context.Background(), pipeline.Payload{}, bundle)
	if !result.Failed() {
		t.Fatalf("result = %s, want failure for malformed CSV", result.Outcome)
	}
}
