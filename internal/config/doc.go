// Package config handles configuration loading for the nightlife services.
//
// # Configuration File
//
// Lookup order:
//
//  1. --config flag
//  2. NIGHTLIFE_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/nightlife/<role>.yaml (optional; defaults apply if absent)
//
// Files ending in .toml are parsed as TOML, everything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  public_key_file: "${HOME}/.config/nightlife/keys/pub"
//
// # Overrides
//
// After the file is read, NIGHTLIFE_* variables replace individual settings,
// for example NIGHTLIFE_TOPICS_DIR, NIGHTLIFE_HANDLER_TIMEOUT,
// NIGHTLIFE_HANDLER_OUTPUT_LIMIT, NIGHTLIFE_JWT_ISSUER, NIGHTLIFE_JWT_AUDIENCE,
// NIGHTLIFE_TIMESYNC_TOLERANCE and NIGHTLIFE_PUBLIC_KEY_FILE.
//
// # Duration Parsing
//
// Durations accept Go duration syntax ("15s", "1m30s") or a bare number of
// seconds ("15").
//
// # Example
//
//	server:
//	  http_addr: "127.0.0.1:8001"
//	topics:
//	  dir: "/etc/nightlife/handlers"
//	  handler_timeout: "15s"
//	  output_limit: 1024
//	auth:
//	  public_key_file: "/etc/nightlife/keys/pub"
//	  timesync_tolerance: "30s"
//	logging:
//	  level: "info"
//	  format: "text"
package config
