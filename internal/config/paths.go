// ABOUTME: Default file locations for the botkeeper config and database
// ABOUTME: Follows XDG base directories with ~/.config and ~/.local/share fallbacks

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "BOTKEEPER_CONFIG"

// DefaultPath returns the config file path: $BOTKEEPER_CONFIG, then
// $XDG_CONFIG_HOME/botkeeper/botkeeper.yaml, then ~/.config/botkeeper/botkeeper.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "botkeeper", "botkeeper.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "botkeeper.yaml"
	}
	return filepath.Join(home, ".config", "botkeeper", "botkeeper.yaml")
}

func defaultDatabasePath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "botkeeper", "botkeeper.db")
	}
	return "~/.local/share/botkeeper/botkeeper.db"
}

// Template is the starter config written by "botkeeper init".
const Template = `# botkeeper configuration

server:
  http_addr: "localhost:3000"

bot:
  username: "RIDER420"
  host: "novasprak.aternos.me"
  port: 32289
  version: "1.12.1"
  autostart: true
  greeting: "Hello! I am back and ready to assist!"

driver:
  url: "ws://localhost:3001/session"
  handshake_timeout: "10s"

reconnect:
  delay: "5s"
  max_attempts: 5

movement:
  interval: "5m"
  range: 500
  y: 64

database:
  path: "~/.local/share/botkeeper/botkeeper.db"

auth:
  # Leave empty to disable bearer auth on the control routes
  jwt_secret: "${BOTKEEPER_JWT_SECRET}"

tailscale:
  enabled: false
  hostname: "botkeeper"
  auth_key: "${TS_AUTHKEY}"
  state_dir: ""
  ephemeral: false

ratelimit:
  requests_per_second: 0
  burst: 0

logging:
  level: "info"
  format: "text"

metrics:
  enabled: false
  path: "/metrics"
`

// WriteTemplate writes Template to path, creating parent directories.
// It refuses to overwrite an existing file.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(Template), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
