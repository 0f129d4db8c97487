// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/nimbstor/nimbstor/cmd/nimbstor/cli"
	"github.com/nimbstor/nimbstor/lib/archivefs"
)

type mountParams struct {
	repositoryParams
	AllowOther bool `flag:"allow-other" desc:"let other users read the mount (needs user_allow_other in /etc/fuse.conf)"`
}

func mountCommand() *cli.Command {
	var params mountParams
	return &cli.Command{
		Name:    "mount",
		Summary: "Expose archives as read-only files through FUSE",
		Description: `Mount the repository read-only at MOUNTPOINT. Every archive appears as
a regular file named by its id. Blocks are decoded on demand. The mount
stays until interrupted or unmounted with fusermount -u.`,
		Usage: "nimbstor mount [flags] MOUNTPOINT",
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("mount", &params) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected one mountpoint, got %d arguments", len(args))
			}
			ctx, cancel := commandContext()
			defer cancel()
			return runMount(ctx, &params, args[0])
		},
	}
}

func runMount(ctx context.Context, params *mountParams, mountpoint string) (err error) {
	logger := params.logger().With("command", "mount", "mountpoint", mountpoint)
	session, _, err := params.open(ctx, logger)
	if err != nil {
		return err
	}
	defer closeSession(session, true, &err)

	server, err := archivefs.Mount(archivefs.Options{
		Mountpoint: mountpoint,
		Repository: session,
		AllowOther: params.AllowOther,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	logger.Info("mounted", "archives", len(session.Index().Archives()))

	unmounted := make(chan struct{})
	go func() {
		server.Wait()
		close(unmounted)
	}()

	select {
	case <-unmounted:
		logger.Info("unmounted externally")
		return nil
	case <-ctx.Done():
	}
	if err := server.Unmount(); err != nil {
		return fmt.Errorf("unmounting %s: %w", mountpoint, err)
	}
	<-unmounted
	logger.Info("unmounted")
	return nil
}
