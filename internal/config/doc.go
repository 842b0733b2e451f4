// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading for SOURCE.
//
// A single TOML file is shared by the server binary and the terminal
// client; each reads the sections it cares about.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (SOURCE_*, GEMINI_API_KEY)
//   - ~/.source/config.toml
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// The server additionally runs config.Watch to pick up edits without a
// restart; only the generation defaults are applied live.
package config
