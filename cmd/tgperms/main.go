package main

import (
	"os"

	"github.com/small-frappuccino/tgperms/pkg/app"
	"github.com/small-frappuccino/tgperms/pkg/log"
)

// main is the entry point of the permission control panel.
func main() {
	if err := app.Run("tgperms"); err != nil {
		log.ErrorLoggerRaw().Error("Fatal", "err", err)
		os.Exit(1)
	}
}
