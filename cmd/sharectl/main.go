package main

import (
	"os"

	"code.teamsync.org/golang/cmd/sharectl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
