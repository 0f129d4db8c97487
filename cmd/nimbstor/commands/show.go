// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/nimbstor/nimbstor/cmd/nimbstor/cli"
)

type showParams struct {
	repositoryParams
	Blocks bool `flag:"blocks" desc:"include the block list"`
}

// showResult adds the block list to an archive view.
type showResult struct {
	archiveView
	BlockIDs []string `json:"block_ids,omitempty"`
}

func showCommand() *cli.Command {
	var params showParams
	return &cli.Command{
		Name:    "show",
		Summary: "Print an archive record as JSON",
		Usage:   "nimbstor show [flags] ARCHIVE-ID",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("show", &params) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected one archive id, got %d arguments", len(args))
			}
			ctx, cancel := commandContext()
			defer cancel()
			return runShow(ctx, &params, args[0])
		},
	}
}

func runShow(ctx context.Context, params *showParams, id string) (err error) {
	logger := params.logger().With("command", "show")
	session, _, err := params.open(ctx, logger)
	if err != nil {
		return err
	}
	defer closeSession(session, true, &err)

	record, err := session.LoadRecord(ctx, id)
	if err != nil {
		return err
	}
	result := showResult{archiveView: newArchiveView(record)}
	if params.Blocks {
		for _, block := range record.Blocks {
			result.BlockIDs = append(result.BlockIDs, block.ID().String())
		}
	}
	return cli.NewOutput(stdout).JSON(result)
}
