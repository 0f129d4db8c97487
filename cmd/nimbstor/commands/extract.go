// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/google/renameio"
	"github.com/spf13/pflag"

	"github.com/nimbstor/nimbstor/cmd/nimbstor/cli"
)

type extractParams struct {
	repositoryParams
	Output string `flag:"output,o" desc:"write to this file instead of stdout; replaced atomically"`
}

func extractCommand() *cli.Command {
	var params extractParams
	return &cli.Command{
		Name:    "extract",
		Summary: "Write an archive's content to stdout or a file",
		Usage:   "nimbstor extract [flags] ARCHIVE-ID",
		Examples: []cli.Example{
			{Description: "Restore a tarball", Command: "nimbstor extract $ID | tar -x"},
			{Description: "Restore a disk image", Command: "nimbstor extract -o disk.img $ID"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("extract", &params) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected one archive id, got %d arguments", len(args))
			}
			ctx, cancel := commandContext()
			defer cancel()
			return runExtract(ctx, &params, args[0])
		},
	}
}

func runExtract(ctx context.Context, params *extractParams, id string) (err error) {
	logger := params.logger().With("command", "extract")
	session, _, err := params.open(ctx, logger)
	if err != nil {
		return err
	}
	defer closeSession(session, true, &err)

	reader, err := session.OpenArchive(ctx, id)
	if err != nil {
		return err
	}
	defer reader.Close()

	if params.Output == "" || params.Output == "-" {
		_, err = io.Copy(stdout, reader)
		return err
	}

	pending, err := renameio.TempFile("", params.Output)
	if err != nil {
		return fmt.Errorf("creating %s: %w", params.Output, err)
	}
	defer pending.Cleanup()
	if _, err := io.Copy(pending, reader); err != nil {
		return fmt.Errorf("extracting %s: %w", id, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replacing %s: %w", params.Output, err)
	}
	logger.Info("archive extracted", "id", id, "output", params.Output, "size", reader.Size())
	return nil
}
