package main

import (
	"os"

	"github.com/saiset-co/sai-offline/cmd/sai-offline/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
