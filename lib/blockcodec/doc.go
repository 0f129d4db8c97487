// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package blockcodec turns block plaintext into the opaque bytes a
// backend stores, and back.
//
// Encoding compresses the plaintext, frames it, zero-pads the frame to
// a 16-byte boundary when a cipher is configured, and encrypts. The
// frame is
//
//	codec tag (1 byte)
//	plaintext length (uvarint)
//	compressed length (uvarint)
//	compressed bytes
//	zero padding
//
// The tag records the codec actually used, so a block stays readable
// by archives configured with a different codec, and a block that did
// not compress is stored under [compression.None]. Metadata records
// always use [compression.Metadata].
//
// Decoding reverses the steps, trims the plaintext to the declared
// length and compares its strong checksum with the expected one. Every
// failure after decryption, including a malformed frame, reports
// [archive.ErrIntegrity]: with a wrong key the frame is noise, and the
// codec must not reveal whether the key or the data was at fault.
package blockcodec
