// Package main provides the entry point for the compms2 CLI.
package main

import (
	"fmt"
	"os"

	"github.com/524D/compareMS2/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
