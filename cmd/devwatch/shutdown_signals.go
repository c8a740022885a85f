package main

import (
	"context"
	"os"
	"sync/atomic"

	"devwatch/internal/logging"
)

// watchShutdownSignals cancels the watch on the first signal. Later signals
// are logged once and otherwise ignored so teardown can finish.
func watchShutdownSignals(logger *logging.Logger, shutdownCancel context.CancelFunc, signalCh <-chan os.Signal) func() {
	if signalCh == nil {
		return func() {}
	}

	done := make(chan struct{})
	var shutdownStarted atomic.Bool
	var loggedRepeat atomic.Bool

	go func() {
		for {
			select {
			case <-done:
				return
			case sig, ok := <-signalCh:
				if !ok {
					return
				}
				fields := map[string]string{}
				if sig != nil {
					fields["signal"] = sig.String()
				}
				if shutdownStarted.CompareAndSwap(false, true) {
					if logger != nil {
						logger.Info("shutdown signal received", fields)
					}
					if shutdownCancel != nil {
						shutdownCancel()
					}
					continue
				}
				if loggedRepeat.CompareAndSwap(false, true) && logger != nil {
					logger.Warn("shutdown already in progress; ignoring signal", fields)
				}
			}
		}
	}()

	var stopOnce atomic.Bool
	return func() {
		if stopOnce.CompareAndSwap(false, true) {
			close(done)
		}
	}
}
