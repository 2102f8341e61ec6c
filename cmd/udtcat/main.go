// Command udtcat pipes standard input and output over a UDT connection.
//
//	udtcat listen 0.0.0.0:9000 > out.bin
//	udtcat connect 127.0.0.1:9000 < in.bin
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(os.Stdin, os.Stdout)
	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
