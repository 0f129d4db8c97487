// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package compression is the registry of block compressors.
//
// A [Codec] is a one-byte tag stored in every encoded block frame, so
// the values are format constants. A [Spec] pairs a codec with a level
// and is what configuration and archive records carry ("zstd:9",
// "lz4", "none"). A [Registry] turns a Spec into a [Compressor] once,
// when a stream is constructed; nothing in this package keeps
// process-wide compressor caches keyed by name.
//
// Compressors report [ErrIncompressible] when their output would not
// be smaller than the input. The block codec then stores the block
// uncompressed under [None].
package compression
