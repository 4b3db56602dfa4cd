// Package main provides the entry point for the context-server CLI.
package main

import (
	"os"

	"github.com/twilsonco/context-server/cmd/context-server/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
