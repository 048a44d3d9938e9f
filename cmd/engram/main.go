// Command engram is the CLI for the Engram memory system: store facts,
// search them semantically, and run an interactive loop that extracts new
// memories from conversation.
package main

import (
	"fmt"
	"os"

	"github.com/scrypster/engram/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "engram: %v\n", err)
		os.Exit(1)
	}
}
