package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/shareloft/shareloft/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmd.New().ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}
