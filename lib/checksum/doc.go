// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package checksum computes the two checksums that identify every
// block in a nimbstor repository.
//
// The weak checksum is Adler-32 over a fixed-size window. [Rolling]
// updates it in constant time when the window slides by one byte,
// which is what lets the dedup engine test every byte offset of the
// pending write buffer against the set of known blocks.
//
// The strong checksum is a BLAKE3-256 digest of secret || data,
// rendered as unpadded URL-safe base64 and upper-cased. The secret is
// derived from the repository password, so two repositories with
// different passwords never agree on a strong checksum and never
// deduplicate against each other. Without a password the digest is
// unkeyed.
//
// A weak checksum of zero is reserved: blocks recorded with checksum1
// zero are whole-block entries (metadata records and parts) that the
// rolling scan never looks up.
package checksum
