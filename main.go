// Package main provides the entry point for the rgbalign command.
package main

import (
	"os"

	"rgb-aligner/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:]))
}
