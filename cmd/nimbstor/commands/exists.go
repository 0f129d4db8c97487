// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/nimbstor/nimbstor/cmd/nimbstor/cli"
	"github.com/nimbstor/nimbstor/lib/archive"
	"github.com/nimbstor/nimbstor/lib/archiveindex"
	"github.com/nimbstor/nimbstor/lib/checksum"
)

type existsParams struct {
	repositoryParams
	Quiet bool `flag:"quiet,q" desc:"report only through the exit status"`
}

func existsCommand() *cli.Command {
	var params existsParams
	return &cli.Command{
		Name:    "exists",
		Summary: "Check whether an archive or block is stored",
		Description: `Check whether an archive id, or a block id of the form
NUMBER/CHECKSUM1/CHECKSUM2 (as printed by "show --blocks"), is present.
Exits 0 when present and 1 when absent.`,
		Usage: "nimbstor exists [flags] ARCHIVE-ID | BLOCK-ID",
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("exists", &params) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected one id, got %d arguments", len(args))
			}
			return runExists(context.Background(), &params, args[0])
		},
	}
}

func runExists(ctx context.Context, params *existsParams, text string) (err error) {
	var blockID archive.BlockID
	isArchive := checksum.ValidStrong(text)
	if !isArchive {
		blockID, err = archive.ParseBlockID(text)
		if err != nil {
			return fmt.Errorf("%q is neither an archive id nor a block id: %w", text, err)
		}
	}

	logger := params.logger().With("command", "exists")
	session, _, err := params.open(ctx, logger)
	if err != nil {
		return err
	}
	defer closeSession(session, true, &err)

	var found bool
	if isArchive {
		found = session.Index().HasArchive(text)
	} else {
		found = archiveindex.BlockExists(session, blockID)
	}
	if !params.Quiet {
		if found {
			fmt.Fprintf(stdout, "%s: present\n", text)
		} else {
			fmt.Fprintf(stdout, "%s: absent\n", text)
		}
	}
	if !found {
		return &cli.ExitError{Code: 1}
	}
	return nil
}
