// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/nimbstor/nimbstor/cmd/nimbstor/cli"
	"github.com/nimbstor/nimbstor/lib/archiveindex"
)

type lineageParams struct {
	repositoryParams
	cli.JSONOutput
}

func lineageCommand() *cli.Command {
	var params lineageParams
	return &cli.Command{
		Name:    "lineage",
		Summary: "Follow parent links from an archive to its root",
		Usage:   "nimbstor lineage [flags] ARCHIVE-ID",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("lineage", &params) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected one archive id, got %d arguments", len(args))
			}
			ctx, cancel := commandContext()
			defer cancel()
			return runLineage(ctx, &params, args[0])
		},
	}
}

func runLineage(ctx context.Context, params *lineageParams, id string) (err error) {
	logger := params.logger().With("command", "lineage")
	session, _, err := params.open(ctx, logger)
	if err != nil {
		return err
	}
	defer closeSession(session, true, &err)

	chain, lineageErr := archiveindex.Lineage(ctx, session, id)
	if len(chain) == 0 && lineageErr != nil {
		return lineageErr
	}

	output := cli.NewOutput(stdout)
	views := make([]archiveView, 0, len(chain))
	rows := make([][]string, 0, len(chain))
	for _, record := range chain {
		views = append(views, newArchiveView(record))
		rows = append(rows, archiveRow(record))
	}
	if done, err := params.EmitJSON(output, views); done {
		if err != nil {
			return err
		}
	} else if err := output.Table(archiveHeaders, rows); err != nil {
		return err
	}
	if lineageErr != nil {
		return fmt.Errorf("lineage of %s is incomplete: %w", id, lineageErr)
	}
	return nil
}
