// Package main is the entry point for the schnabel CLI.
package main

import (
	"fmt"
	"os"

	"github.com/LumiWave/schnabel-open-audit-sdk/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
