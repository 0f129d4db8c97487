// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package repository turns a [config.Config] into an open
// [stream.Session]: it builds the configured backend, reads the
// password from its configured source and derives the session options.
package repository

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nimbstor/nimbstor/lib/backend"
	"github.com/nimbstor/nimbstor/lib/backend/boltbackend"
	"github.com/nimbstor/nimbstor/lib/backend/containerbackend"
	"github.com/nimbstor/nimbstor/lib/backend/fsbackend"
	"github.com/nimbstor/nimbstor/lib/backend/sqlitebackend"
	"github.com/nimbstor/nimbstor/lib/cipher"
	"github.com/nimbstor/nimbstor/lib/clock"
	"github.com/nimbstor/nimbstor/lib/config"
	"github.com/nimbstor/nimbstor/lib/keyfile"
	"github.com/nimbstor/nimbstor/lib/stream"
)

// Options carries what the configuration file cannot express.
type Options struct {
	// Store replaces the configured backend.
	Store backend.Backend

	// Password is used when the configuration names no password
	// source, typically after prompting on a terminal.
	Password []byte

	Clock  clock.Clock
	Logger *slog.Logger
}

// NewBackend builds the backend named by cfg.Backend. The sqlite
// backend gets one pooled connection per worker plus one.
func NewBackend(cfg config.RepositoryConfig, workers int, logger *slog.Logger) (backend.Backend, error) {
	switch cfg.Backend {
	case config.BackendFilesystem:
		return fsbackend.New(cfg.Path, logger), nil
	case config.BackendContainer:
		return containerbackend.New(cfg.Path, logger), nil
	case config.BackendSQLite:
		return sqlitebackend.New(cfg.Path, max(workers, 1)+1, logger), nil
	case config.BackendBolt:
		return boltbackend.New(cfg.Path, logger), nil
	case config.BackendMemory:
		return backend.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (valid: %v)", cfg.Backend, config.Backends)
	}
}

// Prepare creates the directories the configured backend needs.
// File-backed backends get their parent directory.
func Prepare(cfg config.RepositoryConfig) error {
	var directory string
	switch cfg.Backend {
	case config.BackendMemory:
		return nil
	case config.BackendFilesystem:
		directory = cfg.Path
	default:
		directory = filepath.Dir(cfg.Path)
	}
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", directory, err)
	}
	return nil
}

// ReadPassword returns the password from the configured source, or
// nil when none is configured. Trailing line endings are stripped from
// file sources. The caller should clear the result after use.
func ReadPassword(cfg config.PasswordConfig) ([]byte, error) {
	switch {
	case cfg.File != "":
		data, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("reading password file: %w", err)
		}
		password := bytes.TrimRight(data, "\r\n")
		if len(password) == 0 {
			return nil, fmt.Errorf("password file %s is empty", cfg.File)
		}
		return password, nil

	case cfg.SealedFile != "":
		password, err := keyfile.OpenFile(cfg.SealedFile, cfg.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("opening sealed password: %w", err)
		}
		return password, nil

	case cfg.Env != "":
		value := os.Getenv(cfg.Env)
		if value == "" {
			return nil, fmt.Errorf("environment variable %s is empty", cfg.Env)
		}
		return []byte(value), nil
	}
	return nil, nil
}

// Open validates cfg and opens a session on the configured repository.
func Open(ctx context.Context, cfg *config.Config, options Options) (*stream.Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	spec, err := cfg.CompressionSpec()
	if err != nil {
		return nil, err
	}

	password, err := ReadPassword(cfg.Password)
	if err != nil {
		return nil, err
	}
	if password == nil {
		password = bytes.Clone(options.Password)
	}
	defer clear(password)
	if cfg.Archive.Cipher != "" && cfg.Archive.Cipher != cipher.None && len(password) == 0 {
		return nil, fmt.Errorf("cipher %s requires a password", cfg.Archive.Cipher)
	}

	store := options.Store
	if store == nil {
		if err := Prepare(cfg.Repository); err != nil {
			return nil, err
		}
		store, err = NewBackend(cfg.Repository, cfg.Archive.Workers, logger)
		if err != nil {
			return nil, err
		}
	}

	session, err := stream.Open(ctx, store, stream.SessionOptions{
		Password:      password,
		Cipher:        cfg.Archive.Cipher,
		Compression:   spec,
		BlockSize:     cfg.Archive.BlockSize,
		Workers:       cfg.Archive.Workers,
		VerifyMatches: cfg.Archive.VerifyMatches,
		Clock:         options.Clock,
		Logger:        logger.With("repository", cfg.Repository.Path, "backend", cfg.Repository.Backend),
	})
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", cfg.Repository.Path, err)
	}
	return session, nil
}
