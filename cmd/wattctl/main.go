// Package main is the entry point for the wattctl administration tool.
package main

import (
	"os"

	"github.com/good-yellow-bee/wattmon/cmd/wattctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
