// Command sbctl is a thin cobra-based CLI over the sandboxd HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/opensandbox/sandboxd/cmd/sbctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
