// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package dedup decides which spans of an archive stream are new and
// which already exist in the repository.
//
// [Index] holds what the repository is known to contain: rolling blocks
// keyed by weak then strong checksum, whole-block parts keyed by strong
// checksum, and archive ids. A backend seeds it at open time through
// [Index.AppendBlockInfo].
//
// [Engine] slides a block-sized window over buffered stream data. At
// every offset whose weak checksum is known it confirms the match with
// the strong checksum. A confirmed match flushes the bytes before the
// window as a literal block and records a reference to the existing
// block. When no match is found within one block of lookahead the
// first block-sized span is flushed as a literal so the scan always
// makes progress.
//
// The engine runs on the caller's goroutine. It registers every literal
// in the index before handing it to the [Sink], so later spans of the
// same stream can match blocks that have not reached the backend yet.
package dedup
