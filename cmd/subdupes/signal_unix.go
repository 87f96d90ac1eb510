//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Veraticus/subdupes/internal/service"
)

// notifyForceScan turns SIGUSR1 into a CMD_SCAN_PAGE message until ctx ends.
func notifyForceScan(ctx context.Context, h service.Handler) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGUSR1)

	go func() {
		defer signal.Stop(sigChan)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigChan:
				h.Handle(ctx, service.Message{Type: service.MsgScanPage})
			}
		}
	}()
}
