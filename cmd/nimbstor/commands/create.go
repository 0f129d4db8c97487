// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/nimbstor/nimbstor/cmd/nimbstor/cli"
	"github.com/nimbstor/nimbstor/lib/checksum"
	"github.com/nimbstor/nimbstor/lib/compression"
	"github.com/nimbstor/nimbstor/lib/stream"
)

type createParams struct {
	repositoryParams
	cli.JSONOutput
	Description  string   `flag:"description,d" desc:"archive description"`
	Keywords     []string `flag:"keyword,k" desc:"search keyword (repeatable)"`
	Parent       string   `flag:"parent" desc:"id of the archive this one derives from"`
	MetainfoFile string   `flag:"metainfo-file" desc:"JSON (comments allowed) stored with the archive"`
	Compression  string   `flag:"compression" desc:"compression for this archive, overriding the configuration"`
	SkipEmpty    bool     `flag:"skip-empty" desc:"do not commit an archive whose content is entirely deduplicated"`
}

// createResult is the --json output of create.
type createResult struct {
	ID          string `json:"id"`
	Size        int64  `json:"size"`
	Usage       int64  `json:"usage"`
	Literals    int    `json:"literal_blocks"`
	Reused      int    `json:"reused_blocks"`
	ReusedParts int    `json:"reused_parts"`
}

func createCommand() *cli.Command {
	var params createParams
	return &cli.Command{
		Name:    "create",
		Summary: "Store an archive read from a file or stdin",
		Description: `Read a byte stream from FILE (or stdin when FILE is "-" or absent),
deduplicate it against the repository and commit it as a new archive.
The archive id is printed on stdout.`,
		Usage: "nimbstor create [flags] [FILE]",
		Examples: []cli.Example{
			{Description: "Archive a tarball with keywords", Command: "tar -c /etc | nimbstor create -d 'etc snapshot' -k etc -k nightly"},
			{Description: "Record the parent archive", Command: "nimbstor create --parent $PREVIOUS disk.img"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("create", &params) },
		Run: func(args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("expected at most one input file, got %d", len(args))
			}
			input := "-"
			if len(args) == 1 {
				input = args[0]
			}
			ctx, cancel := commandContext()
			defer cancel()
			return runCreate(ctx, &params, input)
		},
	}
}

func runCreate(ctx context.Context, params *createParams, input string) (err error) {
	options := stream.WriterOptions{
		Description: params.Description,
		Keywords:    params.Keywords,
		Parent:      params.Parent,
	}
	if params.Parent != "" && !checksum.ValidStrong(params.Parent) {
		return fmt.Errorf("--parent %q is not an archive id", params.Parent)
	}
	if params.MetainfoFile != "" {
		options.Metainfo, err = readMetainfo(params.MetainfoFile)
		if err != nil {
			return err
		}
	}
	if params.Compression != "" {
		spec, err := compression.ParseSpec(params.Compression)
		if err != nil {
			return fmt.Errorf("--compression: %w", err)
		}
		options.Compression = &spec
	}

	var reader io.Reader = stdin
	if input != "-" {
		file, err := os.Open(input)
		if err != nil {
			return err
		}
		defer file.Close()
		reader = file
	}

	logger := params.logger().With("command", "create")
	session, cfg, err := params.open(ctx, logger)
	if err != nil {
		return err
	}
	options.CommitEmpty = cfg.Archive.CommitEmpty && !params.SkipEmpty
	if params.Parent != "" && !session.Index().HasArchive(params.Parent) {
		logger.Warn("parent archive is not in this repository", "parent", params.Parent)
	}

	writer, err := session.Create(ctx, options)
	if err != nil {
		session.Close(true)
		return err
	}
	if _, err := io.Copy(writer, contextReader{ctx: ctx, reader: reader}); err != nil {
		writer.Close(true)
		session.Close(true)
		return fmt.Errorf("archiving %s: %w", input, err)
	}
	id, err := writer.Close(false)
	if err != nil {
		session.Close(true)
		return err
	}
	if err := session.Close(false); err != nil {
		return fmt.Errorf("committing repository: %w", err)
	}

	stats := writer.Stats()
	result := createResult{
		ID:          id,
		Size:        stats.Size,
		Usage:       stats.Usage,
		Literals:    stats.Literals,
		Reused:      stats.Reused,
		ReusedParts: stats.ReusedParts,
	}
	output := cli.NewOutput(stdout)
	if done, err := params.EmitJSON(output, result); done {
		return err
	}
	if id == "" {
		fmt.Fprintln(stderr, "content already stored; no archive committed")
		return nil
	}
	logger.Info("archive stored",
		"id", id,
		"size", humanize.IBytes(uint64(stats.Size)),
		"usage", humanize.IBytes(uint64(stats.Usage)),
		"reused_blocks", stats.Reused,
	)
	fmt.Fprintln(stdout, id)
	return nil
}

// readMetainfo parses a JSON file that may contain comments and
// trailing commas.
func readMetainfo(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading metainfo: %w", err)
	}
	var value any
	if err := json.Unmarshal(jsonc.ToJSON(data), &value); err != nil {
		return nil, fmt.Errorf("parsing metainfo %s: %w", path, err)
	}
	return value, nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (r contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, errors.Join(errors.New("interrupted"), err)
	}
	return r.reader.Read(p)
}
