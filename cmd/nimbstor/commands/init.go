// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/nimbstor/nimbstor/cmd/nimbstor/cli"
	"github.com/nimbstor/nimbstor/lib/config"
)

type initParams struct {
	repositoryParams
	Cipher       string `flag:"cipher" desc:"block cipher: none, aes-256-cbc or xchacha20-poly1305"`
	Compression  string `flag:"compression" desc:"default compression, e.g. zstd:3 or lz4"`
	BlockSize    int    `flag:"block-size" desc:"dedup block size in bytes"`
	Workers      int    `flag:"workers" desc:"encode/decode workers"`
	PasswordFile string `flag:"password-file" desc:"file holding the repository password"`
	Force        bool   `flag:"force" desc:"replace an existing configuration file"`
}

func initCommand() *cli.Command {
	var params initParams
	return &cli.Command{
		Name:    "init",
		Summary: "Write a configuration file and create the repository",
		Description: `Write a configuration file built from the defaults and the given flags,
then create the repository it names. The configuration is written to
--config, or to the default configuration path.`,
		Usage: "nimbstor init [flags]",
		Examples: []cli.Example{
			{Description: "SQLite repository with encryption", Command: "nimbstor init -r ~/backups.db --backend sqlite --cipher xchacha20-poly1305 --password-file ~/.nimbstor-password"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("init", &params) },
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			return runInit(&params)
		},
	}
}

func runInit(params *initParams) (err error) {
	path := params.Config
	if path == "" {
		path = os.Getenv("NIMBSTOR_CONFIG")
	}
	if path == "" {
		path = config.DefaultPath()
	}
	if _, statErr := os.Stat(path); statErr == nil && !params.Force {
		return fmt.Errorf("configuration %s already exists (use --force to replace it)", path)
	}

	cfg := config.Default()
	if params.Repository != "" {
		cfg.Repository.Path = params.Repository
	}
	if params.Backend != "" {
		cfg.Repository.Backend = params.Backend
	}
	if params.Cipher != "" {
		cfg.Archive.Cipher = params.Cipher
	}
	if params.Compression != "" {
		cfg.Archive.Compression = params.Compression
	}
	if params.BlockSize != 0 {
		cfg.Archive.BlockSize = params.BlockSize
	}
	if params.Workers != 0 {
		cfg.Archive.Workers = params.Workers
	}
	if params.PasswordFile != "" {
		cfg.Password.File = params.PasswordFile
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.WriteFile(path); err != nil {
		return err
	}

	// Open and commit once so the backend lays out its storage.
	opener := repositoryParams{Config: path, Verbose: params.Verbose}
	logger := opener.logger().With("command", "init")
	session, loaded, err := opener.open(context.Background(), logger)
	if err != nil {
		return err
	}
	defer closeSession(session, false, &err)

	fmt.Fprintf(stdout, "initialized %s repository at %s\nconfiguration: %s\n",
		loaded.Repository.Backend, loaded.Repository.Path, path)
	return nil
}
