// Package daemonctl implements the daemon singleton guard, PID registry,
// auxiliary process supervisor, and signal/shutdown coordination described
// for the folder-mcp daemon.
package daemonctl

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// dataDirectoryName is the name of folder-mcp's data directory inside the
	// user's home directory.
	dataDirectoryName = ".folder-mcp"

	// registryName is the name of the daemon registry file within the data
	// directory (spec §6: "daemon.pid").
	registryName = "daemon.pid"

	// logName is the name of the daemon's own log file within the data
	// directory.
	logName = "daemon.log"
)

// homeDirectory is the cached path to the current user's home directory.
var homeDirectory string

// dataDirectoryPath is the path to folder-mcp's data directory.
var dataDirectoryPath string

func init() {
	h, err := os.UserHomeDir()
	if err != nil || h == "" {
		h = os.TempDir()
	}
	homeDirectory = h
	dataDirectoryPath = filepath.Join(homeDirectory, dataDirectoryName)
}

// subpath computes a path inside folder-mcp's data directory, creating the
// directory (and any intermediate components) if it doesn't already exist.
func subpath(components ...string) (string, error) {
	if err := os.MkdirAll(dataDirectoryPath, 0o700); err != nil {
		return "", fmt.Errorf("unable to create data directory: %w", err)
	}
	return filepath.Join(dataDirectoryPath, filepath.Join(components...)), nil
}

// RegistryPath computes the path to the daemon registry file.
func RegistryPath() (string, error) {
	return subpath(registryName)
}

// LogPath computes the path to the daemon's own log file.
func LogPath() (string, error) {
	return subpath(logName)
}
