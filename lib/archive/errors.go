// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrIntegrity reports a checksum or authentication failure after
	// decoding a block. A wrong password and corrupt data produce the
	// same error on purpose.
	ErrIntegrity = errors.New("integrity check failed: wrong password or corrupt data")

	// ErrArchiveNotFound reports an archive id that the backend never
	// reported as committed metadata.
	ErrArchiveNotFound = errors.New("archive not found")

	// ErrBlockNotFound reports a block identity the backend does not
	// hold.
	ErrBlockNotFound = errors.New("block not found")

	// ErrUnsupportedCodec reports a compression or cipher name that is
	// not registered.
	ErrUnsupportedCodec = errors.New("unsupported codec")

	// ErrCollision reports two different byte sequences sharing one
	// (checksum1, checksum2) identity. Deduplication cannot continue
	// safely after it.
	ErrCollision = errors.New("checksum collision")
)

// BlockError attaches a block identity to one of the sentinel errors.
type BlockError struct {
	ID  BlockID
	Err error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("block %s: %v", e.ID, e.Err)
}

func (e *BlockError) Unwrap() error { return e.Err }

// CodecError names the codec or cipher that could not be resolved.
// It unwraps to [ErrUnsupportedCodec].
type CodecError struct {
	Kind string // "compression" or "cipher"
	Name string
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("unsupported %s %q", e.Kind, e.Name)
}

func (e *CodecError) Unwrap() error { return ErrUnsupportedCodec }
