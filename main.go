package main

import (
	"os"

	"github.com/ekaya-inc/ekaya-catalog/pkg/cli"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := cli.NewRootCmd(Version).Execute(); err != nil {
		os.Exit(1)
	}
}
