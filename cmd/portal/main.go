package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/platinummonkey/portal/pkg/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, cli.ErrAccessDenied) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
