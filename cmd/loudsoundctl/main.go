package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/loudsound/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cli.NewRootCommand().ExecuteContext(ctx)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
	}
	stop()
	os.Exit(cli.GetExitCode(err))
}
