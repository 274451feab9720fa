// ABOUTME: Main CLI application for the riff pipeline runner
// ABOUTME: Entry point for the Cobra-based command-line interface

package main

import (
	"os"

	"github.com/riffml/riff/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
