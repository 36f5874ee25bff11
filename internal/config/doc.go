// Package config provides configuration loading and validation for the audio feature streamer.
// It reads a YAML (or JSON) file, optionally merges AWS IoT credentials kept in a separate
// file, overlays .env and environment variables, and validates each section. An incomplete
// remote endpoint block is not fatal; the streamer then runs in fallback-only mode.
package config
