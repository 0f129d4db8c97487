// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/nimbstor/nimbstor/cmd/nimbstor/cli"
	"github.com/nimbstor/nimbstor/lib/archiveindex"
)

type verifyParams struct {
	repositoryParams
	All bool `flag:"all" desc:"verify every archive in the repository"`
}

func verifyCommand() *cli.Command {
	var params verifyParams
	return &cli.Command{
		Name:    "verify",
		Summary: "Decode every block of archives and check their checksums",
		Description: `Read and decode every block of each archive, checking strong checksums
and the archive size. Exits 1 if any archive fails.`,
		Usage: "nimbstor verify [flags] ARCHIVE-ID... | --all",
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("verify", &params) },
		Run: func(args []string) error {
			if params.All == (len(args) > 0) {
				return errors.New("give archive ids or --all, not both")
			}
			ctx, cancel := commandContext()
			defer cancel()
			return runVerify(ctx, &params, args)
		},
	}
}

func runVerify(ctx context.Context, params *verifyParams, ids []string) (err error) {
	logger := params.logger().With("command", "verify")
	session, _, err := params.open(ctx, logger)
	if err != nil {
		return err
	}
	defer closeSession(session, true, &err)

	if params.All {
		ids = session.Index().Archives()
	}
	failed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		report, verifyErr := archiveindex.VerifyBlocks(ctx, session, id)
		if verifyErr != nil {
			failed++
			fmt.Fprintf(stdout, "FAILED %s: %v\n", id, verifyErr)
			continue
		}
		fmt.Fprintf(stdout, "ok     %s (%d blocks, %s)\n", id, report.Blocks, humanize.IBytes(uint64(report.Bytes)))
	}
	if failed > 0 {
		logger.Error("verification failed", "failed", failed, "checked", len(ids))
		return &cli.ExitError{Code: 1}
	}
	return nil
}
