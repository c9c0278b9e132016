package main

import (
	"os"

	"github.com/fwcentral/fwcentral/cmd/fwcentrald/command"
)

func main() {
	if err := command.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
