// Command friday is a personal assistant with long-term conversational
// memory. It serves a WebSocket API, runs an interactive chat, and manages
// the memory store from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "friday:", err)
		stop()
		os.Exit(1)
	}
}
