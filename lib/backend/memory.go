// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/nimbstor/nimbstor/lib/archive"
)

// Memory is a Backend that keeps committed blocks in process memory.
// It survives Close and can be opened again, which makes it a
// repository for tests and for the "memory" backend kind.
type Memory struct {
	mu        sync.Mutex
	open      bool
	committed map[archive.BlockID][]byte
	staged    map[archive.BlockID][]byte
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{committed: make(map[archive.BlockID][]byte)}
}

func (m *Memory) Open(ctx context.Context, sink BlockInfoSink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		return ErrAlreadyOpen
	}
	ids := slices.Collect(maps.Keys(m.committed))
	SortIDs(ids)
	for _, id := range ids {
		sink.AppendBlockInfo(id)
	}
	m.open = true
	m.staged = make(map[archive.BlockID][]byte)
	return nil
}

func (m *Memory) ReadBuffer(ctx context.Context, id archive.BlockID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return nil, ErrClosed
	}
	if data, ok := m.staged[id]; ok {
		return slices.Clone(data), nil
	}
	if data, ok := m.committed[id]; ok {
		return slices.Clone(data), nil
	}
	return nil, NotFound(id)
}

func (m *Memory) WriteBuffer(ctx context.Context, data []byte, id archive.BlockID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return ErrClosed
	}
	if _, ok := m.committed[id]; ok {
		return nil
	}
	if _, ok := m.staged[id]; ok {
		return nil
	}
	m.staged[id] = slices.Clone(data)
	return nil
}

func (m *Memory) Close(dontCommit bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return nil
	}
	if !dontCommit {
		maps.Copy(m.committed, m.staged)
	}
	m.staged = nil
	m.open = false
	return nil
}

// Corrupt flips one byte of a committed block. Tests use it to
// exercise integrity failures; it reports whether the block existed.
func (m *Memory) Corrupt(id archive.BlockID, offset int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.committed[id]
	if !ok || len(data) == 0 {
		return false
	}
	data[offset%len(data)] ^= 0xff
	return true
}

// Len returns the number of committed blocks.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.committed)
}
