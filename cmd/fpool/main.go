package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"filepool/cmd/fpool/commands"
)

func main() {
	// Ctrl-C 只会在两个文件之间生效，迁移中的单个文件一定会做完
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
