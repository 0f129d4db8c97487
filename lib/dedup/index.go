// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"slices"
	"sync"

	"github.com/nimbstor/nimbstor/lib/archive"
	"github.com/nimbstor/nimbstor/lib/checksum"
)

// Index is the in-memory view of a repository's blocks. It is safe for
// concurrent use.
type Index struct {
	mu sync.RWMutex

	// blocks maps weak checksum to strong checksum to block number.
	blocks map[uint32]map[string]uint64

	// parts maps strong checksum to block number for whole-block
	// literals written since the index was created.
	parts map[string]uint64

	// metadata is the set of committed archive ids.
	metadata map[string]struct{}

	// known is every identity the repository holds, replayed or
	// written.
	known map[archive.BlockID]struct{}
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		blocks:   make(map[uint32]map[string]uint64),
		parts:    make(map[string]uint64),
		metadata: make(map[string]struct{}),
		known:    make(map[archive.BlockID]struct{}),
	}
}

// AppendBlockInfo records a block reported by a backend at open time.
// Replayed parts are only recorded for membership: whole-block matching
// is scoped to blocks written through this index.
func (x *Index) AppendBlockInfo(id archive.BlockID) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.known[id] = struct{}{}
	switch role := id.Role().(type) {
	case archive.MetadataRole:
		x.metadata[id.Checksum2] = struct{}{}
	case archive.DataRole:
		if !id.IsPart() {
			x.addBlockLocked(id.Checksum1, id.Checksum2, role.Number)
		}
	}
}

// AddLiteral records a data block written in this session.
func (x *Index) AddLiteral(id archive.BlockID) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.known[id] = struct{}{}
	if id.IsPart() {
		if _, ok := x.parts[id.Checksum2]; !ok {
			x.parts[id.Checksum2] = id.Number
		}
		return
	}
	x.addBlockLocked(id.Checksum1, id.Checksum2, id.Number)
}

func (x *Index) addBlockLocked(weak uint32, strong string, number uint64) {
	byStrong, ok := x.blocks[weak]
	if !ok {
		byStrong = make(map[string]uint64)
		x.blocks[weak] = byStrong
	}
	if _, ok := byStrong[strong]; !ok {
		byStrong[strong] = number
	}
}

// Forget removes a literal recorded with AddLiteral whose bytes never
// reached the backend. Identities registered under another block
// number are left alone.
func (x *Index) Forget(id archive.BlockID) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.known, id)
	if id.IsPart() {
		if number, ok := x.parts[id.Checksum2]; ok && number == id.Number {
			delete(x.parts, id.Checksum2)
		}
		return
	}
	byStrong := x.blocks[id.Checksum1]
	if number, ok := byStrong[id.Checksum2]; ok && number == id.Number {
		delete(byStrong, id.Checksum2)
		if len(byStrong) == 0 {
			delete(x.blocks, id.Checksum1)
		}
	}
}

// AddArchive records a committed archive id.
func (x *Index) AddArchive(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.metadata[id] = struct{}{}
	x.known[archive.MetadataID(id)] = struct{}{}
}

// HasWeak reports whether any rolling block has the weak checksum.
func (x *Index) HasWeak(weak uint32) bool {
	if weak == checksum.Part {
		return false
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.blocks[weak]
	return ok
}

// LookupBlock returns the number of the rolling block with the given
// checksums.
func (x *Index) LookupBlock(weak uint32, strong string) (uint64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	number, ok := x.blocks[weak][strong]
	return number, ok
}

// LookupPart returns the number of the whole-block literal with the
// given strong checksum.
func (x *Index) LookupPart(strong string) (uint64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	number, ok := x.parts[strong]
	return number, ok
}

// HasArchive reports whether id is a committed archive.
func (x *Index) HasArchive(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.metadata[id]
	return ok
}

// Archives returns every committed archive id in sorted order.
func (x *Index) Archives() []string {
	x.mu.RLock()
	ids := make([]string, 0, len(x.metadata))
	for id := range x.metadata {
		ids = append(ids, id)
	}
	x.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Contains reports whether the repository holds id.
func (x *Index) Contains(id archive.BlockID) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.known[id]
	return ok
}

// Len returns the number of known identities.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.known)
}
