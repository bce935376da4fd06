package util

import (
	"fmt"
	"os"
	"path/filepath"
)

const AppConfigDir = ".config/stegofed"

// GetConfigDir returns ~/.config/stegofed, creating it when missing.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, AppConfigDir)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// ResolveFilePath prefers filename in the working directory, then in the
// user config directory. When neither exists the config directory path is
// returned so the file can be created there.
func ResolveFilePath(filename string) string {
	if _, err := os.Stat(filename); err == nil {
		return filename
	}

	configDir, err := GetConfigDir()
	if err != nil {
		return filename
	}
	return filepath.Join(configDir, filename)
}
