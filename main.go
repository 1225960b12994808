package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ollama/tfbind/cmd"
	_ "github.com/ollama/tfbind/native/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := cmd.NewCLI()
	cli.SetContext(ctx)
	cmd.Main(cli)
}
