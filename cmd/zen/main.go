package main

import (
	"os"

	"github.com/netra-systems/zen-sub010/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
