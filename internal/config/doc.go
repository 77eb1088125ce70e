// Package config loads evbridge settings.
//
// Configuration is layered, later layers overriding earlier ones:
//
//	┌─────────────────────────────┐
//	│  4. Command line flags      │  ← applied by cmd/evbridge
//	├─────────────────────────────┤
//	│  3. EVBRIDGE_* environment  │
//	├─────────────────────────────┤
//	│  2. Config file (TOML/YAML) │
//	├─────────────────────────────┤
//	│  1. Built-in defaults       │
//	└─────────────────────────────┘
//
// The file format follows the extension: .toml, or .yaml/.yml. Durations
// are written as strings such as "250ms" or "2.5s".
//
//	[jobs]
//	max_jobs = 5
//	grace_period = "2.5s"
//
//	[loop]
//	idle_timeout = "4s"
//
// Watch reports changes to the file so a running process can re-apply the
// settings that are safe to change live.
package config
