package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SetupSignalHandler returns a context canceled on the first SIGINT or
// SIGTERM. A second signal is left to the default handler, so it kills the
// process if shutdown hangs.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ctx, cancel
}

// ReloadSignal returns a channel receiving SIGHUP, used to force a config
// reload. Call stop to release it.
func ReloadSignal() (ch <-chan os.Signal, stop func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)
	return sigChan, func() { signal.Stop(sigChan) }
}
