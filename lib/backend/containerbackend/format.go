// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package containerbackend

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/nimbstor/nimbstor/lib/archive"
)

const formatVersion = 1

var (
	packMagic  = [8]byte{'N', 'I', 'M', 'B', 'P', 'A', 'C', formatVersion}
	indexMagic = [8]byte{'N', 'I', 'M', 'B', 'I', 'D', 'X', formatVersion}
)

// packHeaderSize is the magic at the start of the pack file. Block
// data starts right after it.
const packHeaderSize = len(packMagic)

// entry locates one block inside the pack file.
type entry struct {
	id     archive.BlockID
	offset int64
	length int64
}

// Index file layout, all integers little-endian:
//
//	magic      [8]byte
//	count      uint32
//	entries    count × { number uint64, checksum1 uint32,
//	                     checksum2Len uint16, checksum2 []byte,
//	                     offset uint64, length uint64 }
//	checksum   uint64   xxhash64 of every preceding byte
func encodeIndex(entries []entry) []byte {
	size := len(indexMagic) + 4 + 8
	for _, e := range entries {
		size += 8 + 4 + 2 + len(e.id.Checksum2) + 8 + 8
	}
	buffer := make([]byte, 0, size)
	buffer = append(buffer, indexMagic[:]...)
	buffer = binary.LittleEndian.AppendUint32(buffer, uint32(len(entries)))
	for _, e := range entries {
		buffer = binary.LittleEndian.AppendUint64(buffer, e.id.Number)
		buffer = binary.LittleEndian.AppendUint32(buffer, e.id.Checksum1)
		buffer = binary.LittleEndian.AppendUint16(buffer, uint16(len(e.id.Checksum2)))
		buffer = append(buffer, e.id.Checksum2...)
		buffer = binary.LittleEndian.AppendUint64(buffer, uint64(e.offset))
		buffer = binary.LittleEndian.AppendUint64(buffer, uint64(e.length))
	}
	return binary.LittleEndian.AppendUint64(buffer, xxhash.Sum64(buffer))
}

var errCorruptIndex = errors.New("container index is corrupt")

func decodeIndex(data []byte) ([]entry, error) {
	if len(data) < len(indexMagic)+4+8 {
		return nil, fmt.Errorf("%w: %d bytes", errCorruptIndex, len(data))
	}
	body, trailer := data[:len(data)-8], data[len(data)-8:]
	if xxhash.Sum64(body) != binary.LittleEndian.Uint64(trailer) {
		return nil, fmt.Errorf("%w: checksum mismatch", errCorruptIndex)
	}
	if [8]byte(body[:8]) != indexMagic {
		return nil, fmt.Errorf("%w: bad magic %q", errCorruptIndex, body[:8])
	}
	count := binary.LittleEndian.Uint32(body[8:12])
	rest := body[12:]

	entries := make([]entry, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < 14 {
			return nil, fmt.Errorf("%w: entry %d truncated", errCorruptIndex, i)
		}
		number := binary.LittleEndian.Uint64(rest[0:8])
		checksum1 := binary.LittleEndian.Uint32(rest[8:12])
		checksum2Length := int(binary.LittleEndian.Uint16(rest[12:14]))
		rest = rest[14:]
		if len(rest) < checksum2Length+16 {
			return nil, fmt.Errorf("%w: entry %d truncated", errCorruptIndex, i)
		}
		checksum2 := string(rest[:checksum2Length])
		rest = rest[checksum2Length:]
		entries = append(entries, entry{
			id:     archive.BlockID{Number: number, Checksum1: checksum1, Checksum2: checksum2},
			offset: int64(binary.LittleEndian.Uint64(rest[0:8])),
			length: int64(binary.LittleEndian.Uint64(rest[8:16])),
		})
		rest = rest[16:]
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", errCorruptIndex, len(rest))
	}
	return entries, nil
}
