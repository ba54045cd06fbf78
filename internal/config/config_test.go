package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"telepipe/internal/config"
)

func TestLoadDefaultConfigUsesEnvCredentialsAndExpandsPaths(t *testing.T) {
	t.Setenv("TELEPIPE_API_ID", "12345")
	t.Setenv("TELEPIPE_API_HASH", "abcdef")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := loadWithChannels(t, "")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if !exists {
		t.Fatal("expected written config file to resolve")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "telepipe", "data")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7410" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Platform.APIID != "12345" {
		t.Fatalf("expected api id from env, got %q", cfg.Platform.APIID)
	}
	if cfg.Pipeline.Schedule != "0 0 * * *" {
		t.Fatalf("unexpected default schedule: %q", cfg.Pipeline.Schedule)
	}
	if cfg.Pipeline.Timezone != "UTC" {
		t.Fatalf("unexpected default timezone: %q", cfg.Pipeline.Timezone)
	}
	if cfg.Pipeline.MaxRetries != 3 {
		t.Fatalf("unexpected default max retries: %d", cfg.Pipeline.MaxRetries)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir, cfg.RawMessagesDir(), cfg.RawMediaDir()} {
		if _, err := os.Stat(dir); err != nil {
			t.Fatalf("expected directory %s to exist: %v", dir, err)
		}
	}
	if !strings.HasPrefix(cfg.WarehousePath(), cfg.Paths.DataDir) {
		t.Fatalf("warehouse path %q not under data dir", cfg.WarehousePath())
	}
}

func TestLoadRejectsInvalidSchedule(t *testing.T) {
	path := writeConfig(t, `
[platform]
api_id = "1"
api_hash = "h"
channels = ["alpha"]

[pipeline]
schedule = "not a cron"
`)
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected invalid cron expression to fail validation")
	}
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	path := writeConfig(t, `
[platform]
api_id = "1"
api_hash = "h"
channels = ["alpha"]

[pipeline]
timezone = "Mars/Olympus"
`)
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected unknown timezone to fail validation")
	}
}

func TestLoadRequiresChannels(t *testing.T) {
	path := writeConfig(t, `
[platform]
api_id = "1"
api_hash = "h"
channels = []
`)
	_, _, _, err := config.Load(path)
	if err == nil {
		t.Fatal("expected empty channel list to fail validation")
	}
	if !strings.Contains(err.Error(), "channels") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRejectsBadLogFormat(t *testing.T) {
	path := writeConfig(t, `
[platform]
api_id = "1"
api_hash = "h"
channels = ["alpha"]

[logging]
format = "yaml"
`)
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected unsupported log format to fail validation")
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected second WriteSample to refuse overwrite")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func loadWithChannels(t *testing.T, path string) (*config.Config, string, bool, error) {
	t.Helper()
	if path == "" {
		// Default resolution needs a config file carrying a channel list since
		// channels have no environment fallback.
		home := os.Getenv("HOME")
		dir := filepath.Join(home, ".config", "telepipe")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir config dir: %v", err)
		}
		path = filepath.Join(dir, "config.toml")
		body := "[platform]\nchannels = [\"alpha\"]\n"
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		return config.Load("")
	}
	return config.Load(path)
}
