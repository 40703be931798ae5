// Command swarmd fans an objective out to a swarm of coding agents and
// synthesizes their results into a final report.
package main

import (
	"fmt"
	"os"

	"github.com/agentswarm/swarmd/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "swarmd:", err)
		os.Exit(1)
	}
}
