// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/nimbstor/nimbstor/cmd/nimbstor/cli"
	"github.com/nimbstor/nimbstor/lib/archiveindex"
)

type searchParams struct {
	repositoryParams
	cli.JSONOutput
	IDs bool `flag:"ids" desc:"print only archive ids, best match first"`
}

// searchResult is one line of --json output.
type searchResult struct {
	archiveView
	Weight    int     `json:"weight"`
	Relevance float64 `json:"relevance"`
}

func searchCommand() *cli.Command {
	var params searchParams
	return &cli.Command{
		Name:    "search",
		Summary: "Rank archives by keyword",
		Description: `Rank every archive against the keywords. A keyword scores when it
equals or is contained in an archive keyword, matches the timestamp
("2006-01-02 15:04:05" UTC) or the size, or occurs in the description
or metainfo. Archives that match nothing are omitted.`,
		Usage: "nimbstor search [flags] KEYWORD...",
		Examples: []cli.Example{
			{Description: "Newest nightly database backup", Command: "nimbstor search --ids nightly db | head -1"},
			{Description: "Archives taken on a given day", Command: "nimbstor search 2023-07-04"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("search", &params) },
		Run: func(args []string) error {
			if len(args) == 0 {
				return errors.New("at least one keyword is required")
			}
			ctx, cancel := commandContext()
			defer cancel()
			return runSearch(ctx, &params, args)
		},
	}
}

func runSearch(ctx context.Context, params *searchParams, keywords []string) (err error) {
	logger := params.logger().With("command", "search")
	session, _, err := params.open(ctx, logger)
	if err != nil {
		return err
	}
	defer closeSession(session, true, &err)

	found := archiveindex.Search(ctx, session, keywords)
	for id, failure := range found.Errors {
		logger.Warn("archive record unreadable", "id", id, "error", failure)
	}

	matched := found.Results[:0]
	for _, result := range found.Results {
		if result.Weight > 0 {
			matched = append(matched, result)
		}
	}

	output := cli.NewOutput(stdout)
	results := make([]searchResult, 0, len(matched))
	for _, result := range matched {
		results = append(results, searchResult{
			archiveView: newArchiveView(result.Archive),
			Weight:      result.Weight,
			Relevance:   result.Relevance,
		})
	}
	if done, err := params.EmitJSON(output, results); done {
		return err
	}
	if params.IDs {
		for _, result := range matched {
			fmt.Fprintln(stdout, result.Archive.ID)
		}
		return nil
	}
	rows := make([][]string, 0, len(matched))
	for _, result := range matched {
		rows = append(rows, append([]string{strconv.Itoa(result.Weight)}, archiveRow(result.Archive)...))
	}
	return output.Table(append([]string{"WEIGHT"}, archiveHeaders...), rows)
}
