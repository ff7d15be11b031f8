package main

import (
	"os"

	"github.com/reelframe/reelframe-agent/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
