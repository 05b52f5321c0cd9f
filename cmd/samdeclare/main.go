package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/SBN-ALCF/sam-globus-keepup/internal/cli"
)

// main is a thin boundary: canonicalize input, run the pipeline, map the
// outcome to an exit code. A termination signal cancels the context so
// in-flight declarations finish cleanly instead of leaving the catalog
// half-declared.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := cli.Run(ctx, os.Args[1:])
	if err != nil {
		var invErr *cli.InvocationError
		if errors.As(err, &invErr) {
			fmt.Fprintln(os.Stderr, invErr.Message)
			os.Exit(invErr.ExitCode)
		}
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(result.ExitCode)
}
