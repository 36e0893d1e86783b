// Package config provides configuration management for pixiv-downloader.
//
// This package handles:
//   - Loading and saving settings from JSON files
//   - Default configuration values
//   - Conversion to PathConfig for the model package
//   - Live settings that can be re-read while the process runs
//
// # Default Settings
//
// Use DefaultSettings() to get sensible defaults:
//
//	settings := config.DefaultSettings()
//	// Downloads to ~/Pictures/Pixiv/{artist}/{artwork_id}_{title}
//	// Three artworks per batch window
//	// JSON registry backend
//
// # Loading from File
//
//	settings, err := config.Load("/path/to/config.json")
//	if err != nil {
//	    // Uses defaults if file doesn't exist
//	}
//
// # Live Settings
//
// Live wraps a settings file so long running processes can pick up edits:
//
//	live, err := config.NewLive("/path/to/config.json")
//	live.OnChange(func(s *config.Settings) { registrySwitch.Apply(ctx, s) })
//	err = live.Reload()
//
// The batch executor reads BatchConcurrency from the live settings at the
// start of every window, and the registry backend flag is re-applied on
// every reload.
package config
