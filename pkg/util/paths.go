package util

import (
	"strings"
)

// DefaultAppName names per-user directories when no other name is given.
const DefaultAppName = "tgperms"

// DefaultLogDir is the per-user log directory for appName on this platform.
// Callers create it as needed.
func DefaultLogDir(appName string) string {
	return platformLogDir(sanitizeAppName(appName))
}

// sanitizeAppName makes name safe as a single path segment on every
// platform.
func sanitizeAppName(name string) string {
	n := strings.TrimSpace(name)
	n = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '<', '>', '"', '|', '?', '*':
			return '-'
		case 0:
			return -1
		}
		return r
	}, n)
	n = strings.TrimRight(n, ". ")
	if n == "" {
		return DefaultAppName
	}
	return n
}
