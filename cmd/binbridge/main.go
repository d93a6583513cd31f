package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/binbridge/binbridge/internal/cli"
	"github.com/binbridge/binbridge/internal/cli/helpers"
)

func main() {
	if err := cli.Execute(); err != nil {
		if !errors.Is(err, helpers.ErrReported) {
			_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
