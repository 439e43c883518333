package main

// ============================================================================
// Responsibilities:
// 1. Process entry point
// 2. Build and execute the CLI
// 3. Top-level error reporting and panic recovery
// ============================================================================

import (
	"fmt"
	"os"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	if err := cli.BuildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}
