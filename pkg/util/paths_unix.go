//go:build !windows && !darwin

package util

import (
	"os"
	"path/filepath"
	"strings"
)

// Logs live under $XDG_STATE_HOME/<app>/logs, defaulting to
// ~/.local/state/<app>/logs.
func platformLogDir(appName string) string {
	if v := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); v != "" {
		return filepath.Join(v, appName, "logs")
	}
	return filepath.Join(homeDir(), ".local", "state", appName, "logs")
}

func homeDir() string {
	if h := strings.TrimSpace(os.Getenv("HOME")); h != "" {
		return h
	}
	if h, err := os.UserHomeDir(); err == nil && strings.TrimSpace(h) != "" {
		return h
	}
	return "."
}
