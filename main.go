package main

import (
	"os"

	"github.com/Diniboy1123/halfpipe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
