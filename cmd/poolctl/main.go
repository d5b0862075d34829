// Package main is the entry point for the poolctl CLI.
// poolctl is the operator terminal tool for the bot pool orchestrator.
package main

import (
	"os"

	"github.com/Git-Ansh/crypto-trading-platform-sub002/cmd/poolctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
