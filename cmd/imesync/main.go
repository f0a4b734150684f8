// Package main is the entry point for the imesync CLI.
package main

import (
	"os"

	"imesync/cmd/imesync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
