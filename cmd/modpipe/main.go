package main

import (
	"fmt"
	"os"

	"github.com/modpipe/modpipe/cmd/modpipe/commands"
)

func main() {
	if err := commands.NewRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
