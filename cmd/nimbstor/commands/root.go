// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/nimbstor/nimbstor/cmd/nimbstor/cli"
	"github.com/nimbstor/nimbstor/lib/version"
)

// Standard streams, replaced in tests.
var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// Root returns the complete command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "nimbstor",
		Description: `nimbstor: deduplicating, compressing, encrypting archive store.

Archives are byte streams split into content-defined blocks. Blocks
already present in the repository are referenced instead of stored
again, so repeated backups of similar data cost little space.`,
		Subcommands: []*cli.Command{
			initCommand(),
			createCommand(),
			extractCommand(),
			listCommand(),
			showCommand(),
			searchCommand(),
			verifyCommand(),
			existsCommand(),
			lineageCommand(),
			mountCommand(),
			sealPasswordCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Fprintf(stdout, "nimbstor %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{Description: "Create a repository with the default configuration", Command: "nimbstor init"},
			{Description: "Back up a directory", Command: "tar -C /home -c . | nimbstor create -d 'home backup' -k home"},
			{Description: "Restore the newest home backup", Command: "nimbstor extract $(nimbstor search --ids home | head -1) | tar -x"},
		},
	}
}
