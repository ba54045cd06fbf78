package config

const (
	defaultDataDir           = "~/.local/share/telepipe/data"
	defaultLogDir            = "~/.local/share/telepipe/logs"
	defaultAPIBind           = "127.0.0.1:7410"
	defaultGatewayURL        = "http://127.0.0.1:8081"
	defaultMessageLimit      = 10000
	defaultRequestTimeout    = 30
	defaultSchedule          = "0 0 * * *"
	defaultTimezone          = "UTC"
	defaultMaxRetries        = 3
	defaultRetryBaseDelayMS  = 1000
	defaultRetryMaxDelayMS   = 60000
	defaultStageTimeout      = 600
	defaultScrapeTimeout     = 3600
	defaultEnrichTimeout     = 1800
	defaultDetectorCommand   = "detect-objects"
	defaultDetectorModel     = "yolov8n.pt"
	defaultNotifyTimeout     = 10
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Platform: Platform{
			GatewayURL:     defaultGatewayURL,
			MessageLimit:   defaultMessageLimit,
			RequestTimeout: defaultRequestTimeout,
		},
		Pipeline: Pipeline{
			Schedule:         defaultSchedule,
			Timezone:         defaultTimezone,
			MaxRetries:       defaultMaxRetries,
			RetryBaseDelayMS: defaultRetryBaseDelayMS,
			RetryMaxDelayMS:  defaultRetryMaxDelayMS,
			StageTimeout:     defaultStageTimeout,
			ScrapeTimeout:    defaultScrapeTimeout,
			EnrichTimeout:    defaultEnrichTimeout,
		},
		Detector: Detector{
			Command: defaultDetectorCommand,
			Model:   defaultDetectorModel,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Runs:           true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
