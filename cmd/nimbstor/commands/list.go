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

type listParams struct {
	repositoryParams
	cli.JSONOutput
	IDs bool `flag:"ids" desc:"print only archive ids, newest first"`
}

func listCommand() *cli.Command {
	var params listParams
	return &cli.Command{
		Name:    "list",
		Summary: "List archives, newest first",
		Usage:   "nimbstor list [flags]",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("list", &params) },
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			ctx, cancel := commandContext()
			defer cancel()
			return runList(ctx, &params)
		},
	}
}

func runList(ctx context.Context, params *listParams) (err error) {
	logger := params.logger().With("command", "list")
	session, _, err := params.open(ctx, logger)
	if err != nil {
		return err
	}
	defer closeSession(session, true, &err)

	records, failures := archiveindex.List(ctx, session)
	for id, failure := range failures {
		logger.Warn("archive record unreadable", "id", id, "error", failure)
	}

	output := cli.NewOutput(stdout)
	views := make([]archiveView, 0, len(records))
	for _, record := range records {
		views = append(views, newArchiveView(record))
	}
	if done, err := params.EmitJSON(output, views); done {
		return err
	}
	if params.IDs {
		for _, record := range records {
			fmt.Fprintln(stdout, record.ID)
		}
		return nil
	}
	rows := make([][]string, 0, len(records))
	for _, record := range records {
		rows = append(rows, archiveRow(record))
	}
	return output.Table(archiveHeaders, rows)
}
