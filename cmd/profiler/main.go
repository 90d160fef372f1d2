// Command profiler measures the pack toolkit against real game data: opening
// and decoding archives, building the dependency cache and running
// diagnostics, with optional CPU, heap, trace and wall-clock profiles.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
