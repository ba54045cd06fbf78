package resources

import (
	"time"

	"telepipe/internal/config"
	"telepipe/internal/pipeline"
	"telepipe/internal/services"
)

// Requirement names stages may declare.
const (
	Database    = "database"
	PlatformAPI = "platform-api"
	Detector    = "detector"
	DataDirs    = "data-dirs"
)

// DatabaseResource carries warehouse connection parameters.
type DatabaseResource struct {
	Path string
}

// PlatformResource carries messaging-platform gateway credentials.
type PlatformResource struct {
	GatewayURL     string
	APIID          string
	APIHash        string
	Phone          string
	Channels       []string
	MessageLimit   int
	RequestTimeout time.Duration
}

// DetectorResource carries the external object-detection command settings.
type DetectorResource struct {
	Command string
	Model   string
}

// Bundle is the read-only view of configuration a run's stages receive.
// It is resolved once per run so every stage observes the same values even if
// the environment changes mid-run.
type Bundle struct {
	Database       DatabaseResource
	Platform       PlatformResource
	Detector       DetectorResource
	DataDir        string
	RawMessagesDir string
	RawMediaDir    string
}

// Provider maps declared stage resource requirements onto concrete connection
// parameters sourced from process-wide configuration.
type Provider struct {
	cfg *config.Config
}

// NewProvider builds a provider over the given configuration.
func NewProvider(cfg *config.Config) *Provider {
	return &Provider{cfg: cfg}
}

// Snapshot captures the current configuration as a Bundle for one run.
func (p *Provider) Snapshot() Bundle {
	cfg := p.cfg
	return Bundle{
		Database: DatabaseResource{Path: cfg.WarehousePath()},
		Platform: PlatformResource{
			GatewayURL:     cfg.Platform.GatewayURL,
			APIID:          cfg.Platform.APIID,
			APIHash:        cfg.Platform.APIHash,
			Phone:          cfg.Platform.Phone,
			Channels:       append([]string(nil), cfg.Platform.Channels...),
			MessageLimit:   cfg.Platform.MessageLimit,
			RequestTimeout: time.Duration(cfg.Platform.RequestTimeout) * time.Second,
		},
		Detector: DetectorResource{
			Command: cfg.Detector.Command,
			Model:   cfg.Detector.Model,
		},
		DataDir:        cfg.Paths.DataDir,
		RawMessagesDir: cfg.RawMessagesDir(),
		RawMediaDir:    cfg.RawMediaDir(),
	}
}

// Resolve verifies a stage's declared requirements against the bundle. Unknown
// requirement names and unsatisfiable requirements are configuration errors
// surfaced before the stage runs.
func (b Bundle) Resolve(spec pipeline.StageSpec) error {
	for _, requirement := range spec.Resources {
		switch requirement {
		case Database:
			if b.Database.Path == "" {
				return services.Wrap(services.ErrConfiguration, spec.Name, "resolve resources", "database path is not configured", nil)
			}
		case PlatformAPI:
			if b.Platform.APIID == "" || b.Platform.APIHash == "" {
				return services.Wrap(services.ErrConfiguration, spec.Name, "resolve resources", "platform credentials are not configured", nil)
			}
		case Detector:
			// The detector is optional for skippable stages; presence is
			// checked by the stage itself so it can resolve to a skip.
		case DataDirs:
			if b.DataDir == "" {
				return services.Wrap(services.ErrConfiguration, spec.Name, "resolve resources", "data directory is not configured", nil)
			}
		default:
			return services.Wrap(services.ErrConfiguration, spec.Name, "resolve resources", "unknown resource requirement "+requirement, nil)
		}
	}
	return nil
}
