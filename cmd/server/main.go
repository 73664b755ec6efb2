// Package main implements the entry point for the OpenVoice server, which
// accepts audio uploads, enhances them asynchronously on a pool of
// workers and serves the results for a limited retention window.
package main

import (
	"fmt"
	"os"
)

// main is the entry point for the openvoice server.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
