// Package config holds runtime configuration for the server and CLI.
package config

import (
	"os"
	"path/filepath"
)

// ServerConfig holds configuration for the dagrun server.
type ServerConfig struct {
	Addr        string // Listen address (default ":8080")
	LogLevel    string // Log level: debug, info, warn, error
	LogFormat   string // Log format: text, json
	DBPath      string // SQLite database path (":memory:" for testing)
	WorkDir     string // Root directory for task working directories
	MaxParallel int    // Max concurrently running steps per run (0 = unlimited)
	MaxProcs    int    // Max concurrent local processes (0 = unlimited)
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
		DBPath:    DefaultDBPath(),
	}
}

// DefaultDBPath returns the ledger location under the user's home directory,
// falling back to the working directory when home cannot be determined.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "dagrun.db"
	}
	return filepath.Join(home, ".dagrun", "dagrun.db")
}
