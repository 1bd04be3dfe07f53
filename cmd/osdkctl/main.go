package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/osdkctl/internal/vehicle"
)

const (
	exitOK         = 0
	exitUsage      = 1
	exitInitFailed = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "osdkctl:", err)
	}
	stop()
	os.Exit(exitCode(err))
}

// exitCode maps a command error onto the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, vehicle.ErrInitFailed):
		return exitInitFailed
	default:
		return exitUsage
	}
}
