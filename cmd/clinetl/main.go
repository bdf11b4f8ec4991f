package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// interrupts stop the run at the next window boundary
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err, os.Stderr))
}
