// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package fsbackend stores each block as one file in a sharded
// directory tree:
//
//	<root>/data/<c2[0:2]>/<c2[2:4]>/<number>-<checksum1>-<checksum2>.blk
//	<root>/meta/<c2[0:2]>/<checksum2>.meta
//	<root>/staging/session-*/...      blocks written by the open session
//	<root>/lock                       flock(2) held while open
//
// Blocks written during a session go to a private staging directory
// and are renamed into place on commit, data before metadata, so a
// crash never leaves a metadata record that references missing data.
package fsbackend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/nimbstor/nimbstor/lib/archive"
	"github.com/nimbstor/nimbstor/lib/backend"
	"github.com/nimbstor/nimbstor/lib/checksum"
)

const (
	dataDir    = "data"
	metaDir    = "meta"
	stagingDir = "staging"
	lockFile   = "lock"

	dataSuffix = ".blk"
	metaSuffix = ".meta"
)

// Backend is a directory-tree backend.
type Backend struct {
	root   string
	logger *slog.Logger

	mu      sync.Mutex
	lock    *os.File
	session string
	staged  map[archive.BlockID]string
}

// New returns a backend rooted at root. Nothing touches the disk until
// Open. A nil logger discards.
func New(root string, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Backend{root: root, logger: logger}
}

func (b *Backend) Open(ctx context.Context, sink backend.BlockInfoSink) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lock != nil {
		return backend.ErrAlreadyOpen
	}

	for _, dir := range []string{b.root, filepath.Join(b.root, dataDir), filepath.Join(b.root, metaDir), filepath.Join(b.root, stagingDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating repository directory %s: %w", dir, err)
		}
	}

	lock, err := os.OpenFile(filepath.Join(b.root, lockFile), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lock.Close()
		return fmt.Errorf("locking repository %s: %w", b.root, err)
	}

	success := false
	defer func() {
		if !success {
			unix.Flock(int(lock.Fd()), unix.LOCK_UN)
			lock.Close()
		}
	}()

	// Staging directories left by a crashed session hold nothing that
	// was committed.
	leftovers, err := os.ReadDir(filepath.Join(b.root, stagingDir))
	if err != nil {
		return fmt.Errorf("reading staging directory: %w", err)
	}
	for _, entry := range leftovers {
		b.logger.Warn("removing abandoned staging directory", "name", entry.Name())
		if err := os.RemoveAll(filepath.Join(b.root, stagingDir, entry.Name())); err != nil {
			return fmt.Errorf("removing abandoned staging directory: %w", err)
		}
	}

	ids, err := b.scan()
	if err != nil {
		return err
	}
	for _, id := range ids {
		sink.AppendBlockInfo(id)
	}

	session, err := os.MkdirTemp(filepath.Join(b.root, stagingDir), "session-*")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}

	b.lock = lock
	b.session = session
	b.staged = make(map[archive.BlockID]string)
	success = true
	b.logger.Debug("filesystem backend opened", "root", b.root, "blocks", len(ids))
	return nil
}

// scan lists every committed block in replay order.
func (b *Backend) scan() ([]archive.BlockID, error) {
	var ids []archive.BlockID
	for _, dir := range []string{dataDir, metaDir} {
		base := filepath.Join(b.root, dir)
		err := filepath.WalkDir(base, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() {
				return nil
			}
			id, ok := parseName(entry.Name())
			if !ok {
				b.logger.Warn("ignoring unrecognized file in repository", "path", path)
				return nil
			}
			ids = append(ids, id)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", base, err)
		}
	}
	backend.SortIDs(ids)
	return ids, nil
}

func (b *Backend) ReadBuffer(ctx context.Context, id archive.BlockID) ([]byte, error) {
	b.mu.Lock()
	if b.lock == nil {
		b.mu.Unlock()
		return nil, backend.ErrClosed
	}
	path, staged := b.staged[id]
	b.mu.Unlock()

	if !staged {
		path = b.committedPath(id)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, backend.NotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading block %s: %w", id, err)
	}
	return data, nil
}

func (b *Backend) WriteBuffer(ctx context.Context, data []byte, id archive.BlockID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lock == nil {
		return backend.ErrClosed
	}
	if _, ok := b.staged[id]; ok {
		return nil
	}
	if _, err := os.Stat(b.committedPath(id)); err == nil {
		return nil
	}

	tmpFile, err := os.CreateTemp(b.session, "block-*.tmp")
	if err != nil {
		return fmt.Errorf("creating staged block file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing staged block %s: %w", id, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing staged block %s: %w", id, err)
	}

	stagedPath := filepath.Join(b.session, fileName(id))
	if err := os.Rename(tmpPath, stagedPath); err != nil {
		return fmt.Errorf("renaming staged block %s: %w", id, err)
	}
	b.staged[id] = stagedPath
	success = true
	return nil
}

func (b *Backend) Close(dontCommit bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lock == nil {
		return nil
	}

	var commitErr error
	if !dontCommit {
		commitErr = b.commit()
	}
	if err := os.RemoveAll(b.session); err != nil && commitErr == nil {
		commitErr = fmt.Errorf("removing staging directory: %w", err)
	}

	unix.Flock(int(b.lock.Fd()), unix.LOCK_UN)
	b.lock.Close()
	b.lock = nil
	b.staged = nil
	b.logger.Debug("filesystem backend closed", "root", b.root, "committed", !dontCommit)
	return commitErr
}

// commit moves staged blocks into place, data blocks first.
func (b *Backend) commit() error {
	ids := make([]archive.BlockID, 0, len(b.staged))
	for id := range b.staged {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(x, y archive.BlockID) int {
		_, xMeta := x.Role().(archive.MetadataRole)
		_, yMeta := y.Role().(archive.MetadataRole)
		switch {
		case xMeta == yMeta:
			return 0
		case xMeta:
			return 1
		default:
			return -1
		}
	})
	for _, id := range ids {
		finalPath := b.committedPath(id)
		if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
			return fmt.Errorf("creating shard directory: %w", err)
		}
		if err := os.Rename(b.staged[id], finalPath); err != nil {
			return fmt.Errorf("committing block %s: %w", id, err)
		}
	}
	return nil
}

func (b *Backend) committedPath(id archive.BlockID) string {
	shard := id.Checksum2 + "____"
	switch id.Role().(type) {
	case archive.MetadataRole:
		return filepath.Join(b.root, metaDir, shard[:2], fileName(id))
	default:
		return filepath.Join(b.root, dataDir, shard[:2], shard[2:4], fileName(id))
	}
}

func fileName(id archive.BlockID) string {
	if _, ok := id.Role().(archive.MetadataRole); ok {
		return id.Checksum2 + metaSuffix
	}
	return fmt.Sprintf("%d-%s-%s%s", id.Number, checksum.FormatWeak(id.Checksum1), id.Checksum2, dataSuffix)
}

func parseName(name string) (archive.BlockID, bool) {
	if checksum2, ok := strings.CutSuffix(name, metaSuffix); ok {
		return archive.MetadataID(checksum2), checksum2 != ""
	}
	stem, ok := strings.CutSuffix(name, dataSuffix)
	if !ok {
		return archive.BlockID{}, false
	}
	fields := strings.SplitN(stem, "-", 3)
	if len(fields) != 3 || fields[2] == "" {
		return archive.BlockID{}, false
	}
	number, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil || number == 0 {
		return archive.BlockID{}, false
	}
	checksum1, err := checksum.ParseWeak(fields[1])
	if err != nil {
		return archive.BlockID{}, false
	}
	return archive.BlockID{Number: number, Checksum1: checksum1, Checksum2: fields[2]}, true
}
