// Command claimtype predicts the claim type of a workers' compensation claim.
// It serves the web form, JSON and gRPC APIs, runs one-off predictions from
// the command line and hosts a terminal form.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
