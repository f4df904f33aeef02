// Package main provides the entry point for the arche session server.
package main

import (
	"fmt"
	"os"

	"github.com/arche-ai/arche/cmd/arche/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
