// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package fsbackend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nimbstor/nimbstor/lib/archive"
	"github.com/nimbstor/nimbstor/lib/backend"
	"github.com/nimbstor/nimbstor/lib/backend/backendtest"
)

func TestConformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backendtest.Factory {
		root := t.TempDir()
		return func() backend.Backend { return New(root, nil) }
	})
}

func TestFileNames(t *testing.T) {
	ids := []archive.BlockID{
		{Number: 12, Checksum1: 0xdeadbeef, Checksum2: "AB-CD_EF"},
		{Number: 1, Checksum1: 0, Checksum2: "X"},
		archive.MetadataID("META-ID"),
	}
	for _, id := range ids {
		parsed, ok := parseName(fileName(id))
		if !ok || parsed != id {
			t.Errorf("parseName(fileName(%s)) = %s, %v", id, parsed, ok)
		}
	}
	for _, bad := range []string{"", "x.tmp", "0-00000000-A.blk", "1-zz-A.blk", "1-00000000-.blk", ".meta"} {
		if _, ok := parseName(bad); ok {
			t.Errorf("parseName(%q) succeeded", bad)
		}
	}
}

func TestLockExcludesSecondOpen(t *testing.T) {
	root := t.TempDir()
	first := New(root, nil)
	if err := first.Open(context.Background(), &backendtest.Recorder{}); err != nil {
		t.Fatal(err)
	}
	defer first.Close(true)

	second := New(root, nil)
	if err := second.Open(context.Background(), &backendtest.Recorder{}); err == nil {
		second.Close(true)
		t.Fatal("second Open of a locked repository succeeded")
	}
}

func TestAbandonedStagingRemoved(t *testing.T) {
	root := t.TempDir()
	abandoned := filepath.Join(root, stagingDir, "session-crashed")
	if err := os.MkdirAll(abandoned, 0o755); err != nil {
		t.Fatal(err)
	}
	store := New(root, nil)
	if err := store.Open(context.Background(), &backendtest.Recorder{}); err != nil {
		t.Fatal(err)
	}
	defer store.Close(true)
	if _, err := os.Stat(abandoned); !os.IsNotExist(err) {
		t.Errorf("abandoned staging directory still present: %v", err)
	}
}

func TestCommittedLayout(t *testing.T) {
	root := t.TempDir()
	store := New(root, nil)
	ctx := context.Background()
	if err := store.Open(ctx, &backendtest.Recorder{}); err != nil {
		t.Fatal(err)
	}
	data := archive.BlockID{Number: 3, Checksum1: 0x10, Checksum2: "QWERTY"}
	meta := archive.MetadataID("ZXCVBN")
	if err := store.WriteBuffer(ctx, []byte("d"), data); err != nil {
		t.Fatal(err)
	}
	if err := store.WriteBuffer(ctx, []byte("m"), meta); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(false); err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{
		filepath.Join(root, dataDir, "QW", "ER", "3-00000010-QWERTY.blk"),
		filepath.Join(root, metaDir, "ZX", "ZXCVBN.meta"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected committed file %s: %v", path, err)
		}
	}
}
