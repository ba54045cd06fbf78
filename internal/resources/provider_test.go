package resources_test

import (
	"errors"
	"testing"

	"telepipe/internal/pipeline"
	"telepipe/internal/resources"
	"telepipe/internal/services"
	"telepipe/internal/testsupport"
)

func TestSnapshotCopiesConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	provider := resources.NewProvider(cfg)

	bundle := provider.Snapshot()
	if bundle.Database.Path != cfg.WarehousePath() {
		t.Fatalf("database path = %q, want %q", bundle.Database.Path, cfg.WarehousePath())
	}
	if len(bundle.Platform.Channels) != len(cfg.Platform.Channels) {
		t.Fatalf("channels = %v", bundle.Platform.Channels)
	}

	// Mutating the snapshot must not leak back into config.
	bundle.Platform.Channels[0] = "mutated"
	if cfg.Platform.Channels[0] == "mutated" {
		t.Fatal("snapshot shares channel slice with config")
	}
}

func TestResolveAcceptsKnownRequirements(t *testing.T) {
	bundle := resources.NewProvider(testsupport.NewConfig(t)).Snapshot()
	spec := pipeline.StageSpec{
		Name:      "scrape",
		Resources: []string{resources.PlatformAPI, resources.DataDirs},
	}
	if err := bundle.Resolve(spec); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
}

func TestResolveRejectsUnknownRequirement(t *testing.T) {
	bundle := resources.NewProvider(testsupport.NewConfig(t)).Snapshot()
	spec := pipeline.StageSpec{Name: "scrape", Resources: []string{"blob-storage"}}

	err := bundle.Resolve(spec)
	if err == nil {
		t.Fatal("expected unknown requirement to fail")
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestResolveRejectsMissingCredentials(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Platform.APIID = ""
	bundle := resources.NewProvider(cfg).Snapshot()

	err := bundle.Resolve(pipeline.StageSpec{Name: "scrape", Resources: []string{resources.PlatformAPI}})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
