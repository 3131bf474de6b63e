// Package main is the entry point for the kumo CLI.
package main

import (
	"os"

	"github.com/mangatek/kumo/cmd/kumo/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
