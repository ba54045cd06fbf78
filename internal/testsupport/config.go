package testsupport

import (
	"path/filepath"
	"testing"

	"telepipe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Platform.APIID = "test-id"
	cfg.Platform.APIHash = "test-hash"
	cfg.Platform.Channels = []string{"lobelia4cosmetics", "CheMed123"}

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithChannels overrides the scraped channel list on the test config.
func WithChannels(channels ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Platform.Channels = channels
	}
}

// WithDetectorCommand overrides the enrichment detector command.
func WithDetectorCommand(command string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Detector.Command = command
	}
}
