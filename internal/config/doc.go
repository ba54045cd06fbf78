// Package config loads and validates the telepipe TOML configuration.
//
// Configuration is resolved from an explicit path, ~/.config/telepipe/config.toml,
// or a telepipe.toml in the working directory, in that order. Defaults are
// applied first, then file values, then environment overrides for platform
// credentials. The resulting Config is constructed once at process start and
// passed explicitly; no package in the orchestration core reads ambient state.
package config
