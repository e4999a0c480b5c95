// Command secai answers AWS security and compliance questions from a local
// corpus of compliance documents. It provides a CLI interface (via Cobra)
// and an optional HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/secai-go/cmd/secai/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
