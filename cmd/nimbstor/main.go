// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/nimbstor/nimbstor/cmd/nimbstor/commands"
)

func main() {
	if err := run(); err != nil {
		// verify and exists report through their own output and
		// return only an exit status.
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
