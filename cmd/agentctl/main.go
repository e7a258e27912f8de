// Package main is the entry point for agentctl.
// agentctl is the operator tool for a robot agent's local control API.
package main

import (
	"os"

	"robotagent/cmd/agentctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
