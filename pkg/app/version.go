package app

import "strings"

// Version is stamped at build time with
// -ldflags "-X github.com/small-frappuccino/tgperms/pkg/app.Version=v1.2.3".
var Version = "dev"

func formatStartupMessage(appName, version string) string {
	appName = strings.TrimSpace(appName)
	version = strings.TrimSpace(version)
	if version == "" || version == "dev" {
		return "🚀 Starting " + appName + " (development build)..."
	}
	return "🚀 Starting " + appName + " " + version + "..."
}
