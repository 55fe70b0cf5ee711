// Command elevate is the entry point for the ElevateAI semantic knowledge
// store. It provides a CLI for ingesting, searching, and maintaining the
// store, plus an HTTP server exposing the same operations over REST.
package main

import (
	"fmt"
	"os"

	"github.com/elevateai/elevate-go/cmd/elevate/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
