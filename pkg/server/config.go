package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file.
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	TCPPort      int    `toml:"tcp_port"`
	HTTPPort     int    `toml:"http_port"`
	MetricsPort  int    `toml:"metrics_port"`
	DatabasePath string `toml:"database_path"`
}

type LimitsSection struct {
	MaxSessions         int `toml:"max_sessions"`
	WriteTimeoutSeconds int `toml:"write_timeout_seconds"`
}

// DefaultTOMLConfig returns the default TOML configuration.
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			TCPPort:      12345,
			HTTPPort:     8080,
			MetricsPort:  9090,
			DatabasePath: "~/.chatrelay/chatrelay.db",
		},
		Limits: LimitsSection{
			MaxSessions:         20,
			WriteTimeoutSeconds: 10,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates a default file
// if not found, and applies environment variable overrides.
func LoadConfig(path string) (TOMLConfig, error) {
	expanded, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}
	path = expanded

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path); err != nil {
			// Can't write (permissions?) - run on defaults anyway
			return applyEnvOverrides(config), nil
		}
		return applyEnvOverrides(config), nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables follow the pattern: CHATRELAY_SECTION_KEY
// Example: CHATRELAY_SERVER_TCP_PORT=6500
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	if val := os.Getenv("CHATRELAY_SERVER_TCP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.TCPPort = port
		}
	}
	if val := os.Getenv("CHATRELAY_SERVER_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.HTTPPort = port
		}
	}
	if val := os.Getenv("CHATRELAY_SERVER_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.MetricsPort = port
		}
	}
	if val := os.Getenv("CHATRELAY_SERVER_DATABASE_PATH"); val != "" {
		config.Server.DatabasePath = val
	}
	if val := os.Getenv("CHATRELAY_LIMITS_MAX_SESSIONS"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			config.Limits.MaxSessions = limit
		}
	}
	if val := os.Getenv("CHATRELAY_LIMITS_WRITE_TIMEOUT_SECONDS"); val != "" {
		if timeout, err := strconv.Atoi(val); err == nil {
			config.Limits.WriteTimeoutSeconds = timeout
		}
	}
	return config
}

// writeDefaultConfig writes the default config to a file with all options
// documented.
func writeDefaultConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	content := `# chatrelay server configuration
# This file was auto-generated with default values
# Restart the server for changes to take effect
#
# Environment variables can override these settings:
# CHATRELAY_SECTION_KEY (e.g., CHATRELAY_SERVER_TCP_PORT=6500)

[server]
# Port for client TCP connections
tcp_port = 12345

# Port for the public HTTP server carrying the /ws WebSocket transport
# Set to 0 to disable
http_port = 8080

# Port for the internal metrics server (/metrics, /health)
# Set to 0 to disable. Never expose this port publicly.
metrics_port = 9090

# Path to SQLite database file
database_path = "~/.chatrelay/chatrelay.db"

[limits]
# Maximum concurrent sessions. Connections beyond this queue indefinitely
# waiting for a free slot; they are never rejected.
max_sessions = 20

# Per-write deadline in seconds for outbound frames. A peer that stops
# reading is dropped from broadcasts after this long.
write_timeout_seconds = 10
`

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig.
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if c.Server.TCPPort != 0 {
		cfg.TCPPort = c.Server.TCPPort
	}
	cfg.HTTPPort = c.Server.HTTPPort
	cfg.MetricsPort = c.Server.MetricsPort

	if c.Limits.MaxSessions != 0 {
		cfg.MaxSessions = c.Limits.MaxSessions
	}
	if c.Limits.WriteTimeoutSeconds != 0 {
		cfg.WriteTimeoutSeconds = c.Limits.WriteTimeoutSeconds
	}

	return cfg
}

// GetDatabasePath returns the database path with ~ expanded.
func (c *TOMLConfig) GetDatabasePath() (string, error) {
	return expandHome(c.Server.DatabasePath)
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}
