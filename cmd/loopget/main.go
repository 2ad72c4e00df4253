// Command loopget prints the Loop installer URL for this machine.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"loopweb/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
