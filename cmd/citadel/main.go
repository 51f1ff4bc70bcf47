package main

import (
	"os"

	"github.com/moolen/citadel/cmd/citadel/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
