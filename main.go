package main

import (
	"os"

	"github.com/alimasry/docupdater/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
