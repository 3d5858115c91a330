// Package main is the entry point for the vrcbridge CLI.
package main

import (
	"os"

	"github.com/vrcbridge/vrcbridge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
