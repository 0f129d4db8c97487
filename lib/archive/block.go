// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nimbstor/nimbstor/lib/checksum"
)

// BlockID is the identity under which a backend stores one block.
// Two blocks with the same BlockID hold the same bytes.
type BlockID struct {
	Number    uint64
	Checksum1 uint32
	Checksum2 string
}

// MetadataID returns the identity of the metadata block of an archive.
func MetadataID(archiveID string) BlockID {
	return BlockID{Number: 0, Checksum1: checksum.Part, Checksum2: archiveID}
}

// Role classifies the block by its number.
func (id BlockID) Role() BlockRole {
	return RoleOf(id.Number)
}

// IsPart reports whether the block was recorded as a whole-block entry
// rather than a rolling-window block.
func (id BlockID) IsPart() bool {
	return id.Checksum1 == checksum.Part
}

func (id BlockID) String() string {
	return fmt.Sprintf("%d/%s/%s", id.Number, checksum.FormatWeak(id.Checksum1), id.Checksum2)
}

// ParseBlockID parses the "number/checksum1/checksum2" form produced
// by [BlockID.String].
func ParseBlockID(text string) (BlockID, error) {
	parts := strings.Split(text, "/")
	if len(parts) != 3 {
		return BlockID{}, fmt.Errorf("block id %q: want number/checksum1/checksum2", text)
	}
	number, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return BlockID{}, fmt.Errorf("block id %q: number: %w", text, err)
	}
	weak, err := checksum.ParseWeak(parts[1])
	if err != nil {
		return BlockID{}, fmt.Errorf("block id %q: %w", text, err)
	}
	if !checksum.ValidStrong(parts[2]) {
		return BlockID{}, fmt.Errorf("block id %q: malformed strong checksum", text)
	}
	return BlockID{Number: number, Checksum1: weak, Checksum2: parts[2]}, nil
}

// BlockRole is either [MetadataRole] or [DataRole].
type BlockRole interface {
	isBlockRole()
}

// MetadataRole marks the metadata record of an archive.
type MetadataRole struct{}

// DataRole marks a content block at position Number (>= 1).
type DataRole struct {
	Number uint64
}

func (MetadataRole) isBlockRole() {}
func (DataRole) isBlockRole()     {}

// RoleOf maps a stored block number to its role.
func RoleOf(number uint64) BlockRole {
	if number == 0 {
		return MetadataRole{}
	}
	return DataRole{Number: number}
}

// Block is one entry of an archive's block list. A block either
// references bytes written by this archive or reuses an identity that
// already existed in the backend; the record does not distinguish the
// two, readers resolve both the same way.
type Block struct {
	Number    uint64 `cbor:"1,keyasint"`
	Checksum1 uint32 `cbor:"2,keyasint"`
	Checksum2 string `cbor:"3,keyasint"`

	// Length is the plaintext length of the block. Decoding trims to
	// it and uses it to size decompression output.
	Length int64 `cbor:"4,keyasint"`
}

// ID returns the backend identity of the block.
func (b Block) ID() BlockID {
	return BlockID{Number: b.Number, Checksum1: b.Checksum1, Checksum2: b.Checksum2}
}
