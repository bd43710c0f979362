// Package config loads agentsdkctl's configuration from opencode.json /
// opencode.jsonc files and environment variables.
//
// # Configuration Loading
//
// Load merges configuration from, in priority order:
//
//  1. Global config (~/.config/opencode/opencode.json[c])
//  2. Project config (<dir>/.opencode/opencode.json[c])
//  3. Environment variables (OPENCODE_MODEL, OPENCODE_SMALL_MODEL, and
//     per-provider API key variables such as ANTHROPIC_API_KEY)
//
// Later sources win. JSONC files have their // and /* */ comments stripped
// before parsing.
//
// # Path Management
//
// GetPaths returns XDG Base Directory Specification paths for data, config,
// cache, and state, adapted for Windows where APPDATA is used for data,
// config and state, and APPDATA\cache for cache.
package config
