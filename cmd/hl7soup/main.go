// Package main implements the hl7soup CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nirzaf/Hl7OpenSoup/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	err := cli.Execute(ctx, args, stdout, stderr)
	if err != nil && !cli.Reported(err) {
		_, _ = fmt.Fprintf(stderr, "hl7soup: %v\n", err)
	}
	return cli.ExitCode(err)
}
