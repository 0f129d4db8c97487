// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package backendtest is the conformance suite every backend runs.
package backendtest

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/nimbstor/nimbstor/lib/archive"
	"github.com/nimbstor/nimbstor/lib/backend"
)

// Factory returns a backend over the same underlying storage each
// time it is called within one subtest, so the suite can close and
// reopen it.
type Factory func() backend.Backend

// NewStorage returns a Factory over fresh storage for one subtest.
type NewStorage func(t *testing.T) Factory

// Recorder is a BlockInfoSink that remembers every replayed identity.
type Recorder struct {
	IDs []archive.BlockID
}

func (r *Recorder) AppendBlockInfo(id archive.BlockID) {
	r.IDs = append(r.IDs, id)
}

// Contains reports whether id was replayed.
func (r *Recorder) Contains(id archive.BlockID) bool {
	for _, replayed := range r.IDs {
		if replayed == id {
			return true
		}
	}
	return false
}

var (
	metadataID = archive.MetadataID("METADATAMETADATAMETADATAMETADATAMETADATAMET")
	firstID    = archive.BlockID{Number: 1, Checksum1: 0x01020304, Checksum2: "FIRSTFIRSTFIRSTFIRSTFIRSTFIRSTFIRSTFIRSTFIR"}
	partID     = archive.BlockID{Number: 2, Checksum1: 0, Checksum2: "PARTPARTPARTPARTPARTPARTPARTPARTPARTPARTPAR"}
	// sameNumberID shares a block number with firstID; identities are
	// the whole tuple.
	sameNumberID = archive.BlockID{Number: 1, Checksum1: 0x0a0b0c0d, Checksum2: "OTHEROTHEROTHEROTHEROTHEROTHEROTHEROTHEROTH"}
)

// Run executes the conformance suite.
func Run(t *testing.T, newStorage NewStorage) {
	ctx := context.Background()

	open := func(t *testing.T, factory Factory) (backend.Backend, *Recorder) {
		t.Helper()
		store := factory()
		recorder := &Recorder{}
		if err := store.Open(ctx, recorder); err != nil {
			t.Fatalf("Open: %v", err)
		}
		return store, recorder
	}

	write := func(t *testing.T, store backend.Backend, id archive.BlockID, data []byte) {
		t.Helper()
		if err := store.WriteBuffer(ctx, data, id); err != nil {
			t.Fatalf("WriteBuffer(%s): %v", id, err)
		}
	}

	read := func(t *testing.T, store backend.Backend, id archive.BlockID, want []byte) {
		t.Helper()
		got, err := store.ReadBuffer(ctx, id)
		if err != nil {
			t.Fatalf("ReadBuffer(%s): %v", id, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("ReadBuffer(%s) = %q, want %q", id, got, want)
		}
	}

	t.Run("EmptyReplay", func(t *testing.T) {
		store, recorder := open(t, newStorage(t))
		defer store.Close(true)
		if len(recorder.IDs) != 0 {
			t.Errorf("fresh backend replayed %v", recorder.IDs)
		}
	})

	t.Run("ReadYourWrites", func(t *testing.T) {
		store, _ := open(t, newStorage(t))
		defer store.Close(true)
		write(t, store, firstID, []byte("first"))
		write(t, store, sameNumberID, []byte("other"))
		read(t, store, firstID, []byte("first"))
		read(t, store, sameNumberID, []byte("other"))

		_, err := store.ReadBuffer(ctx, partID)
		if !errors.Is(err, archive.ErrBlockNotFound) {
			t.Errorf("ReadBuffer(missing) = %v, want ErrBlockNotFound", err)
		}
	})

	t.Run("IdempotentWrite", func(t *testing.T) {
		factory := newStorage(t)
		store, _ := open(t, factory)
		write(t, store, firstID, []byte("first"))
		write(t, store, firstID, []byte("first"))
		if err := store.Close(false); err != nil {
			t.Fatalf("Close: %v", err)
		}

		store, recorder := open(t, factory)
		defer store.Close(true)
		write(t, store, firstID, []byte("first"))
		read(t, store, firstID, []byte("first"))
		count := 0
		for _, id := range recorder.IDs {
			if id == firstID {
				count++
			}
		}
		if count != 1 {
			t.Errorf("block replayed %d times, want 1", count)
		}
	})

	t.Run("CommitAndReplay", func(t *testing.T) {
		factory := newStorage(t)
		store, _ := open(t, factory)
		write(t, store, firstID, []byte("first"))
		write(t, store, partID, []byte("part"))
		write(t, store, metadataID, []byte("metadata"))
		if err := store.Close(false); err != nil {
			t.Fatalf("Close: %v", err)
		}

		store, recorder := open(t, factory)
		defer store.Close(true)
		for _, id := range []archive.BlockID{firstID, partID, metadataID} {
			if !recorder.Contains(id) {
				t.Errorf("committed block %s was not replayed (got %v)", id, recorder.IDs)
			}
		}
		if len(recorder.IDs) != 3 {
			t.Errorf("replayed %d blocks, want 3", len(recorder.IDs))
		}
		read(t, store, firstID, []byte("first"))
		read(t, store, partID, []byte("part"))
		read(t, store, metadataID, []byte("metadata"))
	})

	t.Run("DontCommitDiscards", func(t *testing.T) {
		factory := newStorage(t)
		store, _ := open(t, factory)
		write(t, store, firstID, []byte("first"))
		if err := store.Close(false); err != nil {
			t.Fatal(err)
		}

		store, _ = open(t, factory)
		write(t, store, partID, []byte("part"))
		if err := store.Close(true); err != nil {
			t.Fatalf("Close(true): %v", err)
		}

		store, recorder := open(t, factory)
		defer store.Close(true)
		if recorder.Contains(partID) {
			t.Error("discarded block was replayed")
		}
		if !recorder.Contains(firstID) {
			t.Error("earlier committed block was lost")
		}
		if _, err := store.ReadBuffer(ctx, partID); !errors.Is(err, archive.ErrBlockNotFound) {
			t.Errorf("ReadBuffer(discarded) = %v, want ErrBlockNotFound", err)
		}
	})

	t.Run("ClosedBackend", func(t *testing.T) {
		store, _ := open(t, newStorage(t))
		if err := store.Close(false); err != nil {
			t.Fatal(err)
		}
		if err := store.Close(false); err != nil {
			t.Errorf("second Close: %v", err)
		}
		if _, err := store.ReadBuffer(ctx, firstID); !errors.Is(err, backend.ErrClosed) {
			t.Errorf("ReadBuffer after Close = %v, want ErrClosed", err)
		}
		if err := store.WriteBuffer(ctx, []byte("x"), firstID); !errors.Is(err, backend.ErrClosed) {
			t.Errorf("WriteBuffer after Close = %v, want ErrClosed", err)
		}
	})

	t.Run("LargeBlock", func(t *testing.T) {
		factory := newStorage(t)
		store, _ := open(t, factory)
		large := bytes.Repeat([]byte{0xa5, 0x5a, 0x00}, 400000)
		write(t, store, firstID, large)
		if err := store.Close(false); err != nil {
			t.Fatal(err)
		}
		store, _ = open(t, factory)
		defer store.Close(true)
		read(t, store, firstID, large)
	})
}
