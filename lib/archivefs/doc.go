// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package archivefs exposes a repository as a read-only FUSE
// filesystem. The root directory holds one regular file per committed
// archive, named by archive id, whose content is the archive's
// reassembled stream.
//
// Reads resolve byte offsets through a block table built from the
// archive record on first open, so random access decodes only the
// blocks it touches. Archives are immutable, so the kernel page cache
// is kept across opens.
package archivefs
