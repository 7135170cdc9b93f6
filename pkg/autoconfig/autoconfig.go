// Package autoconfig provides automatic configuration management for zero-configuration setup.
package autoconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// GetDefaultDataDir returns the platform-appropriate data directory for the
// guard selection core's durable state (used guards, sampled sets).
// On Unix: ~/.config/tor-guardsim
// On Windows: %APPDATA%/tor-guardsim
// On macOS: ~/Library/Application Support/tor-guardsim
func GetDefaultDataDir() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		// Use %APPDATA% on Windows
		baseDir = os.Getenv("APPDATA")
		if baseDir == "" {
			baseDir = os.Getenv("USERPROFILE")
			if baseDir == "" {
				return "", fmt.Errorf("cannot determine Windows user directory")
			}
			baseDir = filepath.Join(baseDir, "AppData", "Roaming")
		}
		return filepath.Join(baseDir, "tor-guardsim"), nil

	case "darwin":
		// Use ~/Library/Application Support on macOS
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(homeDir, "Library", "Application Support", "tor-guardsim"), nil

	default:
		// Use XDG_CONFIG_HOME or ~/.config on Linux/Unix
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("cannot determine home directory: %w", err)
			}
			configDir = filepath.Join(homeDir, ".config")
		}
		return filepath.Join(configDir, "tor-guardsim"), nil
	}
}

// EnsureDataDir creates the data directory if it doesn't exist and sets proper permissions.
// On Unix systems, sets permissions to 700 (owner read/write/execute only).
func EnsureDataDir(path string) error {
	// Check if directory exists
	info, err := os.Stat(path)
	if err == nil {
		// Directory exists, verify it's a directory
		if !info.IsDir() {
			return fmt.Errorf("path exists but is not a directory: %s", path)
		}
		// Verify permissions on Unix systems
		if runtime.GOOS != "windows" {
			mode := info.Mode().Perm()
			if mode != 0o700 {
				// Fix permissions
				if err := os.Chmod(path, 0o700); err != nil {
					return fmt.Errorf("failed to set directory permissions: %w", err)
				}
			}
		}
		return nil
	}

	// Directory doesn't exist, create it
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check directory: %w", err)
	}

	// Create directory with proper permissions
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	return nil
}

// EnsureSubDir creates a subdirectory within the data directory.
func EnsureSubDir(dataDir, subDir string) (string, error) {
	path := filepath.Join(dataDir, subDir)
	if err := EnsureDataDir(path); err != nil {
		return "", err
	}
	return path, nil
}

// CleanupTempFiles removes temporary files from the data directory.
func CleanupTempFiles(dataDir string) error {
	// Look for common temporary file patterns
	patterns := []string{"*.tmp", "*.temp", "*.lock~"}

	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dataDir, pattern))
		if err != nil {
			return fmt.Errorf("failed to search for temp files: %w", err)
		}

		for _, match := range matches {
			if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
				// Skip (don't fail on) individual file deletion errors
				continue
			}
		}
	}

	return nil
}
