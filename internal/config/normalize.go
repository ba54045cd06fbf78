package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePlatform()
	c.normalizePipeline()
	c.normalizeDetector()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizePlatform() {
	if c.Platform.APIID == "" {
		if value, ok := os.LookupEnv("TELEPIPE_API_ID"); ok {
			c.Platform.APIID = value
		}
	}
	if c.Platform.APIHash == "" {
		if value, ok := os.LookupEnv("TELEPIPE_API_HASH"); ok {
			c.Platform.APIHash = value
		}
	}
	if c.Platform.Phone == "" {
		if value, ok := os.LookupEnv("TELEPIPE_PHONE"); ok {
			c.Platform.Phone = value
		}
	}
	c.Platform.GatewayURL = strings.TrimRight(strings.TrimSpace(c.Platform.GatewayURL), "/")
	if c.Platform.GatewayURL == "" {
		c.Platform.GatewayURL = defaultGatewayURL
	}
	if c.Platform.MessageLimit <= 0 {
		c.Platform.MessageLimit = defaultMessageLimit
	}
	if c.Platform.RequestTimeout <= 0 {
		c.Platform.RequestTimeout = defaultRequestTimeout
	}
	channels := make([]string, 0, len(c.Platform.Channels))
	for _, channel := range c.Platform.Channels {
		if trimmed := strings.TrimSpace(channel); trimmed != "" {
			channels = append(channels, trimmed)
		}
	}
	c.Platform.Channels = channels
}

func (c *Config) normalizePipeline() {
	c.Pipeline.Schedule = strings.TrimSpace(c.Pipeline.Schedule)
	if c.Pipeline.Schedule == "" {
		c.Pipeline.Schedule = defaultSchedule
	}
	c.Pipeline.Timezone = strings.TrimSpace(c.Pipeline.Timezone)
	if c.Pipeline.Timezone == "" {
		c.Pipeline.Timezone = defaultTimezone
	}
	if c.Pipeline.MaxRetries < 0 {
		c.Pipeline.MaxRetries = defaultMaxRetries
	}
	if c.Pipeline.RetryBaseDelayMS <= 0 {
		c.Pipeline.RetryBaseDelayMS = defaultRetryBaseDelayMS
	}
	if c.Pipeline.RetryMaxDelayMS <= 0 {
		c.Pipeline.RetryMaxDelayMS = defaultRetryMaxDelayMS
	}
	if c.Pipeline.StageTimeout <= 0 {
		c.Pipeline.StageTimeout = defaultStageTimeout
	}
	if c.Pipeline.ScrapeTimeout <= 0 {
		c.Pipeline.ScrapeTimeout = defaultScrapeTimeout
	}
	if c.Pipeline.EnrichTimeout <= 0 {
		c.Pipeline.EnrichTimeout = defaultEnrichTimeout
	}
}

func (c *Config) normalizeDetector() {
	c.Detector.Command = strings.TrimSpace(c.Detector.Command)
	c.Detector.Model = strings.TrimSpace(c.Detector.Model)
	if c.Detector.Model == "" {
		c.Detector.Model = defaultDetectorModel
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
