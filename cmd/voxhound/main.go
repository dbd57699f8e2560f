package main

import (
	"os"

	"github.com/voxhound/voxhound/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
