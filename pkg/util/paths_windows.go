//go:build windows

package util

import (
	"os"
	"path/filepath"
	"strings"
)

// Logs live under %LOCALAPPDATA%\<app>\Logs, falling back to %APPDATA%.
func platformLogDir(appName string) string {
	for _, env := range []string{"LOCALAPPDATA", "APPDATA"} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return filepath.Join(v, appName, "Logs")
		}
	}
	if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
		return filepath.Join(home, "AppData", "Local", appName, "Logs")
	}
	return filepath.Join(".", appName, "Logs")
}
