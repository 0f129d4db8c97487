// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive defines the nimbstor data model and the error
// taxonomy shared by every other package.
//
// An [Archive] is one logical byte stream plus its metadata record.
// The record lists the [Block] entries that reconstitute the stream,
// in order. Each block is addressed by a [BlockID]: its number, its
// weak rolling checksum (checksum1) and its strong content checksum
// (checksum2). Block number zero is the metadata record itself; its
// checksum2 is the archive id. [BlockRole] makes that distinction
// explicit so callers never compare block numbers against a magic
// zero.
//
// Records are serialized as CBOR with Core Deterministic Encoding and
// carry a format version. Readers reject versions they do not know.
//
// The sentinel errors in errors.go are the only error identities the
// engine promises. Everything else is wrapped context.
package archive
