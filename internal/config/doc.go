// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from ~/.config/cnabforge/config.cue (or XDG equivalent on Linux,
// ~/Library/Application Support/cnabforge/config.cue on macOS, %APPDATA%\cnabforge\config.cue
// on Windows). The package provides type-safe access to the build daemon selection,
// parallelism bound, cache repository prefix, and UI settings.
//
// Configuration files are validated against a CUE schema (config_schema.cue) before
// their contents are merged over the defaults.
package config
