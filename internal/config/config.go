// Package config loads the optional provider configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	dserrors "github.com/Jantje19/cargo-credential-bitwarden/internal/errors"
)

// Duplicate-item resolution policies. FailClosed surfaces an ambiguity error
// when more than one vault item matches a registry; Newest picks the item
// with the most recent revision date.
const (
	DuplicatesFailClosed = "fail"
	DuplicatesNewest     = "newest"
)

// DefaultTimeoutMs bounds each Bitwarden CLI invocation.
const DefaultTimeoutMs = 60000

// Settings is the on-disk configuration. All fields are optional; flags
// override file values.
type Settings struct {
	// Email is the Bitwarden account used when a fresh `bw login` is needed.
	Email string `yaml:"email,omitempty"`

	// Sync enables a vault sync before reads and after writes.
	Sync bool `yaml:"sync,omitempty"`

	// TimeoutMs bounds each bw invocation in milliseconds.
	TimeoutMs int `yaml:"timeout_ms,omitempty"`

	// Duplicates selects the policy when several vault items match one
	// registry: "fail" (default) or "newest".
	Duplicates string `yaml:"duplicates,omitempty"`

	// NonInteractive forbids prompting; unlock then requires BW_SESSION or
	// BW_PASSWORD in the environment.
	NonInteractive bool `yaml:"non_interactive,omitempty"`
}

// Default returns the settings used when no config file exists.
func Default() Settings {
	return Settings{
		TimeoutMs:  DefaultTimeoutMs,
		Duplicates: DuplicatesFailClosed,
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "cargo-credential-bitwarden", "config.yaml")
}

// Load reads settings from path. A missing file is not an error unless
// explicit is set; it yields defaults.
func Load(path string, explicit bool) (Settings, error) {
	settings := Default()

	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return settings, nil
		}
		return settings, dserrors.UserError{
			Message:    fmt.Sprintf("Cannot read config file '%s'", path),
			Suggestion: "Check the path passed via --config",
			Err:        err,
		}
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, dserrors.UserError{
			Message:    fmt.Sprintf("Invalid YAML in config file '%s'", path),
			Suggestion: "Check for indentation errors and missing quotes",
			Err:        err,
		}
	}

	if settings.TimeoutMs <= 0 {
		settings.TimeoutMs = DefaultTimeoutMs
	}
	if settings.Duplicates == "" {
		settings.Duplicates = DuplicatesFailClosed
	}

	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}

// Validate checks enumerated fields.
func (s Settings) Validate() error {
	switch s.Duplicates {
	case DuplicatesFailClosed, DuplicatesNewest:
		return nil
	default:
		return dserrors.UserError{
			Message:    fmt.Sprintf("Unknown duplicates policy '%s'", s.Duplicates),
			Suggestion: "Use 'fail' or 'newest'",
		}
	}
}

// Timeout returns the per-invocation timeout as a duration.
func (s Settings) Timeout() time.Duration {
	ms := s.TimeoutMs
	if ms <= 0 {
		ms = DefaultTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}
