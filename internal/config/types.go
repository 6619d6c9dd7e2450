// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cnabforge/cnabforge/internal/daemon"
)

const (
	// EngineDocker drives the Docker build daemon.
	EngineDocker Engine = "docker"
	// EnginePodman drives the Podman build daemon.
	EnginePodman Engine = "podman"
	// EngineAuto probes for an available daemon, Docker first.
	EngineAuto Engine = "auto"

	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"

	// maxParallelism caps concurrent component builds.
	maxParallelism = 64
)

var (
	// ErrInvalidEngine is returned when an Engine value is not recognized.
	ErrInvalidEngine = errors.New("invalid build engine")
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidParallelism is returned when the parallelism bound is out of range.
	ErrInvalidParallelism = errors.New("invalid parallelism")
	// ErrInvalidRepositoryPrefix is the sentinel error wrapped by InvalidRepositoryPrefixError.
	ErrInvalidRepositoryPrefix = errors.New("invalid repository prefix")
	// ErrInvalidBinaryFilePath is returned when a BinaryFilePath value is whitespace-only.
	ErrInvalidBinaryFilePath = errors.New("invalid binary file path")
)

type (
	// Engine specifies which build daemon to drive.
	Engine string

	// InvalidEngineError is returned when an Engine value is not recognized.
	// It wraps ErrInvalidEngine for errors.Is() compatibility.
	InvalidEngineError struct {
		Value Engine
	}

	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	// It wraps ErrInvalidColorScheme for errors.Is() compatibility.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// RepositoryPrefix prefixes every component's cache repository name.
	// The zero value ("") is valid and means "use the bundle name".
	RepositoryPrefix string

	// InvalidRepositoryPrefixError is returned when a RepositoryPrefix value
	// contains characters image repositories do not allow.
	InvalidRepositoryPrefixError struct {
		Value RepositoryPrefix
	}

	// BinaryFilePath represents a filesystem path to a daemon binary.
	// The zero value ("") is valid and means "auto-detect from PATH".
	BinaryFilePath string

	// InvalidBinaryFilePathError is returned when a BinaryFilePath value is
	// non-empty but whitespace-only.
	InvalidBinaryFilePathError struct {
		Value BinaryFilePath
	}

	// InvalidParallelismError is returned when the parallelism bound is out of range.
	InvalidParallelismError struct {
		Value int
	}

	// DaemonConfig holds build daemon settings.
	DaemonConfig struct {
		// BinaryPath is an explicit daemon binary path; empty auto-detects.
		BinaryPath BinaryFilePath `json:"binary_path" mapstructure:"binary_path"`
	}

	// UIConfig holds user interface settings.
	UIConfig struct {
		// ColorScheme controls terminal colors: "auto", "dark", or "light".
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		// Verbose enables debug-level logging.
		Verbose bool `json:"verbose" mapstructure:"verbose"`
	}

	// Config is the application configuration.
	Config struct {
		// Engine selects the build daemon: "docker", "podman", or "auto".
		Engine Engine `json:"engine" mapstructure:"engine"`
		// Parallelism bounds concurrent component builds.
		Parallelism int `json:"parallelism" mapstructure:"parallelism"`
		// RepositoryPrefix prefixes cache repositories; empty uses the bundle name.
		RepositoryPrefix RepositoryPrefix `json:"repository_prefix" mapstructure:"repository_prefix"`
		// Daemon holds build daemon settings.
		Daemon DaemonConfig `json:"daemon" mapstructure:"daemon"`
		// UI holds user interface settings.
		UI UIConfig `json:"ui" mapstructure:"ui"`
	}
)

// String returns the string representation of the Engine.
func (e Engine) String() string { return string(e) }

// Kind maps the engine selection onto the daemon layer's client kind.
func (e Engine) Kind() daemon.Kind {
	switch e {
	case EngineDocker:
		return daemon.KindDocker
	case EnginePodman:
		return daemon.KindPodman
	default:
		return daemon.KindAuto
	}
}

// IsValid returns whether the Engine is one of the defined engine types,
// and a list of validation errors if it is not.
func (e Engine) IsValid() (bool, []error) {
	switch e {
	case EngineDocker, EnginePodman, EngineAuto:
		return true, nil
	default:
		return false, []error{&InvalidEngineError{Value: e}}
	}
}

// Error implements the error interface for InvalidEngineError.
func (e *InvalidEngineError) Error() string {
	return fmt.Sprintf("invalid build engine %q (valid: docker, podman, auto)", e.Value)
}

// Unwrap returns ErrInvalidEngine for errors.Is() compatibility.
func (e *InvalidEngineError) Unwrap() error { return ErrInvalidEngine }

// String returns the string representation of the ColorScheme.
func (cs ColorScheme) String() string { return string(cs) }

// IsValid returns whether the ColorScheme is one of the defined schemes,
// and a list of validation errors if it is not.
func (cs ColorScheme) IsValid() (bool, []error) {
	switch cs {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return true, nil
	default:
		return false, []error{&InvalidColorSchemeError{Value: cs}}
	}
}

// Error implements the error interface for InvalidColorSchemeError.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns ErrInvalidColorScheme for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error { return ErrInvalidColorScheme }

// String returns the string representation of the RepositoryPrefix.
func (p RepositoryPrefix) String() string { return string(p) }

// IsValid returns whether the RepositoryPrefix is valid.
// The zero value ("") is valid (means "use the bundle name"). Non-zero values
// must stay within the lowercase repository character set.
func (p RepositoryPrefix) IsValid() (bool, []error) {
	if p == "" {
		return true, nil
	}
	for _, r := range string(p) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.', r == '/':
		default:
			return false, []error{&InvalidRepositoryPrefixError{Value: p}}
		}
	}
	return true, nil
}

// Error implements the error interface for InvalidRepositoryPrefixError.
func (e *InvalidRepositoryPrefixError) Error() string {
	return fmt.Sprintf("invalid repository prefix %q: only lowercase letters, digits, '-', '_', '.' and '/' are allowed", e.Value)
}

// Unwrap returns ErrInvalidRepositoryPrefix for errors.Is() compatibility.
func (e *InvalidRepositoryPrefixError) Unwrap() error { return ErrInvalidRepositoryPrefix }

// String returns the string representation of the BinaryFilePath.
func (p BinaryFilePath) String() string { return string(p) }

// IsValid returns whether the BinaryFilePath is valid.
// The zero value ("") is valid (means "auto-detect from PATH").
// Non-zero values must not be whitespace-only.
func (p BinaryFilePath) IsValid() (bool, []error) {
	if p == "" {
		return true, nil
	}
	if strings.TrimSpace(string(p)) == "" {
		return false, []error{&InvalidBinaryFilePathError{Value: p}}
	}
	return true, nil
}

// Error implements the error interface for InvalidBinaryFilePathError.
func (e *InvalidBinaryFilePathError) Error() string {
	return fmt.Sprintf("invalid binary file path %q: non-empty value must not be whitespace-only", e.Value)
}

// Unwrap returns ErrInvalidBinaryFilePath for errors.Is() compatibility.
func (e *InvalidBinaryFilePathError) Unwrap() error { return ErrInvalidBinaryFilePath }

// Error implements the error interface for InvalidParallelismError.
func (e *InvalidParallelismError) Error() string {
	return fmt.Sprintf("invalid parallelism %d (valid: 1..%d)", e.Value, maxParallelism)
}

// Unwrap returns ErrInvalidParallelism for errors.Is() compatibility.
func (e *InvalidParallelismError) Unwrap() error { return ErrInvalidParallelism }

// DefaultConfig returns the built-in configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine:      EngineAuto,
		Parallelism: 4,
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
		},
	}
}

// Validate checks every field of the configuration and returns the first
// violation found.
func (c *Config) Validate() error {
	if ok, errs := c.Engine.IsValid(); !ok {
		return errs[0]
	}
	if c.Parallelism < 1 || c.Parallelism > maxParallelism {
		return &InvalidParallelismError{Value: c.Parallelism}
	}
	if ok, errs := c.RepositoryPrefix.IsValid(); !ok {
		return errs[0]
	}
	if ok, errs := c.Daemon.BinaryPath.IsValid(); !ok {
		return errs[0]
	}
	if ok, errs := c.UI.ColorScheme.IsValid(); !ok {
		return errs[0]
	}
	return nil
}
