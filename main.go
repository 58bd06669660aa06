// Command ptygate is an authenticated TCP gateway to interactive shells.
//
// It exits 1 when startup fails (bad configuration, unreadable
// credential file, bind or listen errors) and 0 once SIGINT or SIGTERM
// has stopped the daemon and every session has been torn down.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ptygate/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ptygate: %v\n", err)
		os.Exit(1)
	}
}
