package main

import (
	"fmt"
	"os"

	"snapkeep/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "snapkeep: %v\n", err)
		os.Exit(1)
	}
}
