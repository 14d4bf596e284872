package util

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/small-frappuccino/tgperms/pkg/log"
)

// WaitForInterrupt blocks until SIGINT or SIGTERM.
func WaitForInterrupt() {
	waitForInterruptContext(context.Background(), nil)
}

// waitForInterruptContext also returns when parent is done, so tests can
// stand in for a signal by cancelling it.
func waitForInterruptContext(parent context.Context, callback func()) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.ApplicationLogger().Info("Received interrupt; executing shutdown callback", "reason", context.Cause(ctx))

	if callback != nil {
		callback()
	}
}
