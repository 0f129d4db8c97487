// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package backend_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nimbstor/nimbstor/lib/archive"
	"github.com/nimbstor/nimbstor/lib/backend"
	"github.com/nimbstor/nimbstor/lib/backend/backendtest"
)

func TestMemoryConformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backendtest.Factory {
		memory := backend.NewMemory()
		return func() backend.Backend { return memory }
	})
}

func TestMemoryDoubleOpen(t *testing.T) {
	memory := backend.NewMemory()
	if err := memory.Open(context.Background(), &backendtest.Recorder{}); err != nil {
		t.Fatal(err)
	}
	defer memory.Close(true)
	if err := memory.Open(context.Background(), &backendtest.Recorder{}); !errors.Is(err, backend.ErrAlreadyOpen) {
		t.Errorf("second Open = %v, want ErrAlreadyOpen", err)
	}
}

func TestSortIDs(t *testing.T) {
	ids := []archive.BlockID{
		{Number: 2, Checksum1: 1, Checksum2: "A"},
		{Number: 1, Checksum1: 5, Checksum2: "B"},
		{Number: 1, Checksum1: 5, Checksum2: "A"},
		{Number: 0, Checksum1: 0, Checksum2: "Z"},
	}
	backend.SortIDs(ids)
	want := []archive.BlockID{
		{Number: 0, Checksum1: 0, Checksum2: "Z"},
		{Number: 1, Checksum1: 5, Checksum2: "A"},
		{Number: 1, Checksum1: 5, Checksum2: "B"},
		{Number: 2, Checksum1: 1, Checksum2: "A"},
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("SortIDs = %v, want %v", ids, want)
		}
	}
}
