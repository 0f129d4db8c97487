// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package archivefs

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/nimbstor/nimbstor/lib/archive"
)

// blockEntry maps a byte range of the archive stream to one block.
type blockEntry struct {
	offset int64
	block  archive.Block
}

// blockSource decodes blocks. Sessions implement it.
type blockSource interface {
	ReadBlock(ctx context.Context, block archive.Block) ([]byte, error)
}

// buildBlockTable lays the record's blocks end to end.
func buildBlockTable(record *archive.Archive) ([]blockEntry, error) {
	table := make([]blockEntry, 0, len(record.Blocks))
	var offset int64
	for _, block := range record.Blocks {
		table = append(table, blockEntry{offset: offset, block: block})
		offset += block.Length
	}
	if offset != record.Size {
		return nil, fmt.Errorf("block lengths sum to %d bytes, but the record says %d", offset, record.Size)
	}
	return table, nil
}

// findBlock returns the index of the block containing offset, or -1.
func findBlock(table []blockEntry, offset int64) int {
	if len(table) == 0 || offset < 0 {
		return -1
	}
	index := sort.Search(len(table), func(i int) bool {
		return table[i].offset > offset
	}) - 1
	if index < 0 {
		return -1
	}
	entry := table[index]
	if offset >= entry.offset+entry.block.Length {
		return -1
	}
	return index
}

// blockReader serves positional reads over a block table. It keeps
// the most recently decoded block, which sequential reads smaller than
// a block hit repeatedly.
type blockReader struct {
	table  []blockEntry
	size   int64
	source blockSource

	mu        sync.Mutex
	lastIndex int
	lastData  []byte
}

func newBlockReader(table []blockEntry, size int64, source blockSource) *blockReader {
	return &blockReader{table: table, size: size, source: source, lastIndex: -1}
}

func (r *blockReader) block(ctx context.Context, index int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index == r.lastIndex {
		return r.lastData, nil
	}
	data, err := r.source.ReadBlock(ctx, r.table[index].block)
	if err != nil {
		return nil, err
	}
	r.lastIndex = index
	r.lastData = data
	return data, nil
}

// readAt fills dest from offset, spanning blocks as needed. It returns
// io.EOF only when offset is at or past the end.
func (r *blockReader) readAt(ctx context.Context, dest []byte, offset int64) (int, error) {
	if offset >= r.size {
		return 0, io.EOF
	}
	if remaining := r.size - offset; int64(len(dest)) > remaining {
		dest = dest[:remaining]
	}

	var total int
	for total < len(dest) {
		current := offset + int64(total)
		index := findBlock(r.table, current)
		if index < 0 {
			break
		}
		data, err := r.block(ctx, index)
		if err != nil {
			return total, fmt.Errorf("reading block %d at offset %d: %w", index, current, err)
		}
		within := int(current - r.table[index].offset)
		if within >= len(data) {
			break
		}
		total += copy(dest[total:], data[within:])
	}
	if total == 0 {
		return 0, io.EOF
	}
	return total, nil
}
