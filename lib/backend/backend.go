// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/nimbstor/nimbstor/lib/archive"
)

// BlockInfoSink receives the identity of every committed block when a
// backend opens.
type BlockInfoSink interface {
	AppendBlockInfo(id archive.BlockID)
}

// Backend persists encoded blocks. Implementations serialize their own
// access; the engine calls them from one goroutine at a time.
type Backend interface {
	// Open prepares the backend and replays every committed block into
	// sink before returning.
	Open(ctx context.Context, sink BlockInfoSink) error

	// ReadBuffer returns the stored bytes of id, or an error wrapping
	// archive.ErrBlockNotFound.
	ReadBuffer(ctx context.Context, id archive.BlockID) ([]byte, error)

	// WriteBuffer stores data under id. Writing an identity that
	// already exists is a no-op.
	WriteBuffer(ctx context.Context, data []byte, id archive.BlockID) error

	// Close ends the session. With dontCommit every block written since
	// Open is discarded; otherwise they become durable.
	Close(dontCommit bool) error
}

var (
	// ErrClosed is returned by operations on a backend that is not
	// open.
	ErrClosed = errors.New("backend is not open")

	// ErrAlreadyOpen is returned by Open on an open backend.
	ErrAlreadyOpen = errors.New("backend is already open")
)

// NotFound returns the error backends report for a missing block.
func NotFound(id archive.BlockID) error {
	return &archive.BlockError{ID: id, Err: archive.ErrBlockNotFound}
}

// SortIDs orders identities by number, then checksums. Backends use it
// to make replay order deterministic.
func SortIDs(ids []archive.BlockID) {
	slices.SortFunc(ids, func(a, b archive.BlockID) int {
		return cmp.Or(
			cmp.Compare(a.Number, b.Number),
			cmp.Compare(a.Checksum1, b.Checksum1),
			cmp.Compare(a.Checksum2, b.Checksum2),
		)
	})
}
