package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePlatform(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePlatform() error {
	if c.Platform.APIID == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/telepipe/config.toml"
		}
		return fmt.Errorf("platform.api_id is required. Set TELEPIPE_API_ID env var or edit %s (create with 'telepipe config init')", defaultPath)
	}
	if c.Platform.APIHash == "" {
		return errors.New("platform.api_hash is required. Set TELEPIPE_API_HASH env var or add it to the config file")
	}
	if len(c.Platform.Channels) == 0 {
		return errors.New("platform.channels must list at least one channel to scrape")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if _, err := cron.ParseStandard(c.Pipeline.Schedule); err != nil {
		return fmt.Errorf("pipeline.schedule %q is not a valid cron expression: %w", c.Pipeline.Schedule, err)
	}
	if _, err := time.LoadLocation(c.Pipeline.Timezone); err != nil {
		return fmt.Errorf("pipeline.timezone %q is not a known timezone: %w", c.Pipeline.Timezone, err)
	}
	if c.Pipeline.RetryBaseDelayMS > c.Pipeline.RetryMaxDelayMS {
		return errors.New("pipeline.retry_base_delay_ms must not exceed pipeline.retry_max_delay_ms")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
