package main

import (
	"os"

	"github.com/opd-ai/lockdance/cmd/lockdance/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
