//go:build windows

package main

import (
	"context"

	"github.com/Veraticus/subdupes/internal/service"
)

// notifyForceScan is a no-op; Windows has no SIGUSR1.
func notifyForceScan(context.Context, service.Handler) {}
