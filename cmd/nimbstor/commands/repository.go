// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/nimbstor/nimbstor/cmd/nimbstor/cli"
	"github.com/nimbstor/nimbstor/lib/cipher"
	"github.com/nimbstor/nimbstor/lib/config"
	"github.com/nimbstor/nimbstor/lib/repository"
	"github.com/nimbstor/nimbstor/lib/stream"
)

// repositoryParams are the flags shared by every command that opens a
// repository.
type repositoryParams struct {
	Config     string `flag:"config,c" desc:"configuration file (default $NIMBSTOR_CONFIG or $XDG_CONFIG_HOME/nimbstor/config.yaml)"`
	Repository string `flag:"repository,r" desc:"repository path, overriding the configuration"`
	Backend    string `flag:"backend" desc:"backend kind: filesystem, container, sqlite, bolt or memory"`
	Verbose    bool   `flag:"verbose,v" desc:"log at debug level"`
}

func (p *repositoryParams) logger() *slog.Logger {
	return cli.NewCommandLogger(p.Verbose)
}

// load reads the configuration and applies the flag overrides.
func (p *repositoryParams) load() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if p.Config != "" {
		cfg, err = config.LoadFile(p.Config)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if p.Repository != "" {
		cfg.Repository.Path = p.Repository
	}
	if p.Backend != "" {
		cfg.Repository.Backend = p.Backend
	}
	return cfg, nil
}

// open loads the configuration and opens a session. An encrypted
// repository without a configured password source prompts on the
// terminal.
func (p *repositoryParams) open(ctx context.Context, logger *slog.Logger) (*stream.Session, *config.Config, error) {
	cfg, err := p.load()
	if err != nil {
		return nil, nil, err
	}
	options := repository.Options{Logger: logger}
	if cfg.Archive.Cipher != cipher.None && cfg.Archive.Cipher != "" && !cfg.Password.Configured() {
		password, err := promptPassword("Repository password: ")
		if err != nil {
			return nil, nil, err
		}
		defer clear(password)
		options.Password = password
	}
	session, err := repository.Open(ctx, cfg, options)
	if err != nil {
		return nil, nil, err
	}
	return session, cfg, nil
}

// promptPassword reads a password from the controlling terminal
// without echo.
func promptPassword(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errors.New("a password is required but stdin is not a terminal; configure password.file, password.sealed_file or password.env")
	}
	fmt.Fprint(stderr, prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	if len(password) == 0 {
		return nil, errors.New("empty password")
	}
	return password, nil
}

// commandContext is cancelled by SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// closeSession closes the session and folds its error into err.
func closeSession(session *stream.Session, dontCommit bool, err *error) {
	if closeErr := session.Close(dontCommit); closeErr != nil && *err == nil {
		*err = fmt.Errorf("closing repository: %w", closeErr)
	}
}
