package main

import (
	"fmt"
	"os"

	"github.com/yymmt/bbs-test/internal/cli"
	"github.com/yymmt/bbs-test/internal/config"
)

func main() {
	cmd := cli.NewRootCommand(config.LoadClient())
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
