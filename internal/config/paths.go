package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// GetAppDir returns the per-user directory holding settings, state and logs.
// ARIASYNC_HOME overrides the platform default.
func GetAppDir() string {
	if dir := os.Getenv("ARIASYNC_HOME"); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		return filepath.Join(appData, "ariasync")
	case "darwin": // MacOS
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "ariasync")
	default: // Linux
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			home, _ := os.UserHomeDir()
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, "ariasync")
	}
}

// Returns directory for state files
func GetStateDir() string {
	return filepath.Join(GetAppDir(), "state")
}

// Returns directory for logs
func GetLogsDir() string {
	return filepath.Join(GetAppDir(), "logs")
}

// EnsureDirs creates all required directories
func EnsureDirs() error {
	dirs := []string{GetAppDir(), GetStateDir(), GetLogsDir()}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
