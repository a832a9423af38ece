package main

import (
	"github.com/tphakala/heapbridge/cmd"
	"github.com/tphakala/heapbridge/internal/errors"
	"github.com/tphakala/heapbridge/internal/logging"
)

func main() {
	logging.Init()

	rootCmd := cmd.RootCommand()
	if err := rootCmd.Execute(); err != nil {
		logging.Fatal("command execution failed", errors.LogAttrs(err)...)
	}
}
