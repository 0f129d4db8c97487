// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package containerbackend keeps a whole repository in two files: an
// append-only pack of encoded blocks and an index that locates them.
//
// The pack only ever grows. A session appends its blocks after the
// committed end; commit rewrites the index atomically to cover them,
// and a discarded or crashed session is undone by truncating the pack
// back to the end the index describes.
package containerbackend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/google/renameio"
	"golang.org/x/sys/unix"

	"github.com/nimbstor/nimbstor/lib/archive"
	"github.com/nimbstor/nimbstor/lib/backend"
)

// Backend is a single-pack-file backend.
type Backend struct {
	packPath  string
	indexPath string
	logger    *slog.Logger

	mu           sync.Mutex
	pack         *os.File
	committed    map[archive.BlockID]entry
	staged       map[archive.BlockID]entry
	order        []archive.BlockID
	committedEnd int64
	end          int64
}

// New returns a backend whose pack lives at path and whose index lives
// at path + ".index".
func New(path string, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Backend{packPath: path, indexPath: path + ".index", logger: logger}
}

func (b *Backend) Open(ctx context.Context, sink backend.BlockInfoSink) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pack != nil {
		return backend.ErrAlreadyOpen
	}

	pack, err := os.OpenFile(b.packPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("opening pack %s: %w", b.packPath, err)
	}
	success := false
	defer func() {
		if !success {
			pack.Close()
		}
	}()
	if err := unix.Flock(int(pack.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return fmt.Errorf("locking pack %s: %w", b.packPath, err)
	}

	info, err := pack.Stat()
	if err != nil {
		return fmt.Errorf("stating pack: %w", err)
	}
	if info.Size() == 0 {
		if _, err := pack.WriteAt(packMagic[:], 0); err != nil {
			return fmt.Errorf("writing pack header: %w", err)
		}
	} else {
		var magic [8]byte
		if _, err := pack.ReadAt(magic[:], 0); err != nil {
			return fmt.Errorf("reading pack header: %w", err)
		}
		if magic != packMagic {
			return fmt.Errorf("%s is not a nimbstor pack (magic %q)", b.packPath, magic[:])
		}
	}

	entries, err := b.readIndex()
	if err != nil {
		return err
	}

	committed := make(map[archive.BlockID]entry, len(entries))
	order := make([]archive.BlockID, 0, len(entries))
	committedEnd := int64(packHeaderSize)
	for _, e := range entries {
		committed[e.id] = e
		order = append(order, e.id)
		committedEnd = max(committedEnd, e.offset+e.length)
	}
	if committedEnd > info.Size() && info.Size() != 0 {
		return fmt.Errorf("index references %d bytes but pack holds %d", committedEnd, info.Size())
	}

	// Bytes past the committed end belong to a session that never
	// committed.
	if err := pack.Truncate(committedEnd); err != nil {
		return fmt.Errorf("truncating uncommitted pack tail: %w", err)
	}

	replay := make([]archive.BlockID, len(order))
	copy(replay, order)
	backend.SortIDs(replay)
	for _, id := range replay {
		sink.AppendBlockInfo(id)
	}

	b.pack = pack
	b.committed = committed
	b.staged = make(map[archive.BlockID]entry)
	b.order = order
	b.committedEnd = committedEnd
	b.end = committedEnd
	success = true
	b.logger.Debug("container backend opened", "pack", b.packPath, "blocks", len(entries), "bytes", committedEnd)
	return nil
}

func (b *Backend) readIndex() ([]entry, error) {
	data, err := os.ReadFile(b.indexPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading container index: %w", err)
	}
	return decodeIndex(data)
}

func (b *Backend) ReadBuffer(ctx context.Context, id archive.BlockID) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pack == nil {
		return nil, backend.ErrClosed
	}
	e, ok := b.staged[id]
	if !ok {
		e, ok = b.committed[id]
	}
	if !ok {
		return nil, backend.NotFound(id)
	}
	data := make([]byte, e.length)
	if _, err := b.pack.ReadAt(data, e.offset); err != nil {
		return nil, fmt.Errorf("reading block %s at offset %d: %w", id, e.offset, err)
	}
	return data, nil
}

func (b *Backend) WriteBuffer(ctx context.Context, data []byte, id archive.BlockID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pack == nil {
		return backend.ErrClosed
	}
	if _, ok := b.committed[id]; ok {
		return nil
	}
	if _, ok := b.staged[id]; ok {
		return nil
	}
	if _, err := b.pack.WriteAt(data, b.end); err != nil {
		return fmt.Errorf("appending block %s: %w", id, err)
	}
	b.staged[id] = entry{id: id, offset: b.end, length: int64(len(data))}
	b.order = append(b.order, id)
	b.end += int64(len(data))
	return nil
}

func (b *Backend) Close(dontCommit bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pack == nil {
		return nil
	}

	var closeErr error
	switch {
	case dontCommit || len(b.staged) == 0:
		if err := b.pack.Truncate(b.committedEnd); err != nil {
			closeErr = fmt.Errorf("discarding session blocks: %w", err)
		}
	default:
		closeErr = b.commit()
	}

	unix.Flock(int(b.pack.Fd()), unix.LOCK_UN)
	if err := b.pack.Close(); err != nil && closeErr == nil {
		closeErr = fmt.Errorf("closing pack: %w", err)
	}
	b.pack = nil
	b.committed = nil
	b.staged = nil
	b.order = nil
	b.logger.Debug("container backend closed", "pack", b.packPath, "committed", !dontCommit)
	return closeErr
}

// commit makes the appended blocks durable, then publishes them by
// replacing the index.
func (b *Backend) commit() error {
	if err := b.pack.Sync(); err != nil {
		return fmt.Errorf("syncing pack: %w", err)
	}
	entries := make([]entry, 0, len(b.order))
	for _, id := range b.order {
		if e, ok := b.committed[id]; ok {
			entries = append(entries, e)
		} else {
			entries = append(entries, b.staged[id])
		}
	}
	if err := renameio.WriteFile(b.indexPath, encodeIndex(entries), 0o644); err != nil {
		return fmt.Errorf("writing container index: %w", err)
	}
	return nil
}
