package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	configDirName      = "calendupe"
	configFileName     = "config.yaml"
	serviceAccountFile = "service-account.json"
	subscriptionsDir   = "subscriptions"
	configDirPermMode  = 0o700
)

// GetConfigDir returns the configuration directory path (~/.config/calendupe)
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", configDirName)
	return configDir, nil
}

// GetConfigPath returns the default path to the YAML config file
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, configFileName), nil
}

// GetServiceAccountPath returns the path to the service account key file
func GetServiceAccountPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, serviceAccountFile), nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist
func EnsureConfigDir() error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}

	// Check if directory exists
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		// Create directory with restricted permissions
		if err := os.MkdirAll(configDir, configDirPermMode); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	return nil
}

// EnsureSubscriptionsDir creates the directory where the subscribe tool
// records watch details and returns its path
func EnsureSubscriptionsDir() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}

	dir := filepath.Join(configDir, subscriptionsDir)
	if err := os.MkdirAll(dir, configDirPermMode); err != nil {
		return "", fmt.Errorf("failed to create subscriptions directory: %w", err)
	}
	return dir, nil
}
