package main

import (
	"os"

	"github.com/smartsales365/pulse/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
