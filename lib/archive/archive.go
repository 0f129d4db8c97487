// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"errors"
	"fmt"
	"time"
)

// RecordVersion is the metadata record format written by this code.
const RecordVersion = 1

// Archive is the metadata record of one archive. It is serialized with
// [MarshalRecord] and stored as block zero; the strong checksum of the
// serialized bytes is the archive id.
type Archive struct {
	// ID is the archive id. It is derived from the serialized record
	// and is never part of it.
	ID string `cbor:"-"`

	Version     int      `cbor:"1,keyasint"`
	Description string   `cbor:"2,keyasint,omitempty"`
	Keywords    []string `cbor:"3,keyasint,omitempty"`

	// Parent is the id of the archive this one was derived from, or
	// empty.
	Parent string `cbor:"4,keyasint,omitempty"`

	// Compression is the compression spec used for data blocks, in
	// "name" or "name:level" form.
	Compression string `cbor:"5,keyasint"`

	// Timestamp is the creation time in Unix nanoseconds.
	Timestamp int64 `cbor:"6,keyasint"`

	// Size is the number of logical bytes written.
	Size int64 `cbor:"7,keyasint"`

	// Usage is the number of encoded bytes this archive added to the
	// backend. Reused blocks do not count.
	Usage int64 `cbor:"8,keyasint"`

	// BlockSize is the rolling window size the archive was written
	// with.
	BlockSize int `cbor:"9,keyasint"`

	// Metainfo is opaque caller data. Maps decode as map[string]any.
	Metainfo any `cbor:"10,keyasint,omitempty"`

	Blocks []Block `cbor:"11,keyasint"`
}

// Time returns the creation time in UTC.
func (a *Archive) Time() time.Time {
	return time.Unix(0, a.Timestamp).UTC()
}

// Validate checks the structural invariants of a record: known
// version, data blocks numbered from one, and a size equal to the sum
// of block lengths.
func (a *Archive) Validate() error {
	var errs []error
	if a.Version < 1 || a.Version > RecordVersion {
		errs = append(errs, fmt.Errorf("record version %d is not supported (want 1..%d)", a.Version, RecordVersion))
	}
	if a.Compression == "" {
		errs = append(errs, errors.New("compression is empty"))
	}
	if a.Size < 0 || a.Usage < 0 {
		errs = append(errs, fmt.Errorf("negative size %d or usage %d", a.Size, a.Usage))
	}

	var total int64
	for i, block := range a.Blocks {
		if _, ok := block.ID().Role().(DataRole); !ok {
			errs = append(errs, fmt.Errorf("block %d: number 0 is reserved for metadata", i))
		}
		if block.Checksum2 == "" {
			errs = append(errs, fmt.Errorf("block %d: empty checksum2", i))
		}
		if block.Length <= 0 {
			errs = append(errs, fmt.Errorf("block %d: length %d", i, block.Length))
		}
		total += block.Length
	}
	if total != a.Size {
		errs = append(errs, fmt.Errorf("size %d does not match block lengths %d", a.Size, total))
	}
	return errors.Join(errs...)
}
