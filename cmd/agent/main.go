// Package main is the entry point for the robot agent.
// The agent receives jobs from the server, runs them as Docker containers
// and relays interactive sessions through tunnels.
package main

import (
	"os"

	"robotagent/cmd/agent/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
