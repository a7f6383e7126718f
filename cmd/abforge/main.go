package main

import (
	"os"

	"github.com/abforge/abforge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
