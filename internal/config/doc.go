// Package config handles configuration loading for botkeeper.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Every field has a default, so a file only needs what differs.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from BOTKEEPER_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/botkeeper/botkeeper.yaml
//  3. ~/.config/botkeeper/botkeeper.yaml
//
// Files ending in .toml are decoded with BurntSushi/toml; everything else is YAML.
// "botkeeper init" writes a commented starter file.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${BOTKEEPER_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	reconnect:
//	  delay: "5s"
//	movement:
//	  interval: "5m"
//
// # Sections
//
//   - server: HTTP listen address
//   - bot: username, host, port, protocol version, autostart, greeting
//   - driver: websocket URL of the game client driver
//   - reconnect: delay and max_attempts (0 disables reconnecting)
//   - movement: interval, range, and y of the random wander
//   - database: SQLite path for the event ledger
//   - auth: JWT secret; empty leaves the control routes open
//   - tailscale: optional tsnet listener
//   - ratelimit: token bucket for the control routes
//   - logging: level (debug, info, warn, error) and format (text, json)
//   - metrics: Prometheus endpoint
package config
