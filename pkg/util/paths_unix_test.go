//go:build !windows && !darwin

package util

import (
	"path/filepath"
	"testing"
)

func TestDefaultLogDirUnix(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "")
	t.Setenv("HOME", "/home/perms")

	want := filepath.Join("/home/perms", ".local", "state", "Perms-Bot", "logs")
	if got := DefaultLogDir("Perms/Bot "); got != want {
		t.Fatalf("unexpected log dir: %q", got)
	}

	t.Setenv("XDG_STATE_HOME", "/var/state")
	want = filepath.Join("/var/state", DefaultAppName, "logs")
	if got := DefaultLogDir("  "); got != want {
		t.Fatalf("unexpected log dir with XDG_STATE_HOME: %q", got)
	}
}
