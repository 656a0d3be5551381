package main

import (
	"fmt"
	"os"

	"github.com/abund-gatekeeper/cmd/gatekeeper/cli"
)

// Set via -ldflags at build time
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := cli.Execute(version, commit); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
