package main

import (
	"os"

	"github.com/aeternum-health/dispatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
