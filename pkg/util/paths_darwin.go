//go:build darwin

package util

import (
	"os"
	"path/filepath"
	"strings"
)

// Logs live under ~/Library/Logs/<app>.
func platformLogDir(appName string) string {
	home := strings.TrimSpace(os.Getenv("HOME"))
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = h
		}
	}
	if home == "" {
		home = "."
	}
	return filepath.Join(home, "Library", "Logs", appName)
}
