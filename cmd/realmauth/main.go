package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/florianilch/realmauth/cmd/realmauth/commands"
	"github.com/florianilch/realmauth/internal/autherr"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx, os.Args); err != nil {
		var authErr *autherr.Error
		if errors.As(err, &authErr) {
			fmt.Fprintf(os.Stderr, "Error: %s (%s)\n", authErr.Message, authErr.Code)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}
