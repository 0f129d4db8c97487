// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package containerbackend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nimbstor/nimbstor/lib/archive"
	"github.com/nimbstor/nimbstor/lib/backend"
	"github.com/nimbstor/nimbstor/lib/backend/backendtest"
)

func TestConformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backendtest.Factory {
		path := filepath.Join(t.TempDir(), "repository.pack")
		return func() backend.Backend { return New(path, nil) }
	})
}

func TestIndexEncoding(t *testing.T) {
	entries := []entry{
		{id: archive.BlockID{Number: 1, Checksum1: 7, Checksum2: "SEVEN"}, offset: 8, length: 100},
		{id: archive.MetadataID("META"), offset: 108, length: 20},
	}
	decoded, err := decodeIndex(encodeIndex(entries))
	if err != nil {
		t.Fatalf("decodeIndex: %v", err)
	}
	if len(decoded) != len(entries) {
		t.Fatalf("decoded %d entries, want %d", len(decoded), len(entries))
	}
	for i := range entries {
		if decoded[i] != entries[i] {
			t.Errorf("entry %d = %+v, want %+v", i, decoded[i], entries[i])
		}
	}

	encoded := encodeIndex(entries)
	encoded[12] ^= 1
	if _, err := decodeIndex(encoded); !errors.Is(err, errCorruptIndex) {
		t.Errorf("decodeIndex(damaged) = %v, want errCorruptIndex", err)
	}
	if _, err := decodeIndex(encoded[:5]); !errors.Is(err, errCorruptIndex) {
		t.Errorf("decodeIndex(short) = %v, want errCorruptIndex", err)
	}
}

func TestUncommittedTailTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repository.pack")
	ctx := context.Background()

	store := New(path, nil)
	if err := store.Open(ctx, &backendtest.Recorder{}); err != nil {
		t.Fatal(err)
	}
	id := archive.BlockID{Number: 1, Checksum1: 1, Checksum2: "ONE"}
	if err := store.WriteBuffer(ctx, []byte("committed"), id); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(false); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	committedSize := info.Size()

	// Simulate a crashed session that appended without committing.
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	file.Write([]byte("garbage from a crashed session"))
	file.Close()

	store = New(path, nil)
	recorder := &backendtest.Recorder{}
	if err := store.Open(ctx, recorder); err != nil {
		t.Fatal(err)
	}
	defer store.Close(true)
	info, err = os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != committedSize {
		t.Errorf("pack size after reopen = %d, want %d", info.Size(), committedSize)
	}
	if len(recorder.IDs) != 1 || recorder.IDs[0] != id {
		t.Errorf("replayed %v, want [%s]", recorder.IDs, id)
	}
}

func TestRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-pack")
	if err := os.WriteFile(path, []byte("hello world, not a pack"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := New(path, nil)
	if err := store.Open(context.Background(), &backendtest.Recorder{}); err == nil {
		store.Close(true)
		t.Error("Open accepted a foreign file")
	}
}
