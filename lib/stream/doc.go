// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream writes and reads archives against a backend.
//
// A [Session] owns an open backend, the dedup index seeded from it and
// the keys derived from the repository password. [Session.Create]
// returns a [Writer], an io.Writer that deduplicates written bytes,
// encodes new blocks on a worker pool and commits the archive record on
// Close. [Session.OpenArchive] returns a [Reader], an io.Reader over a
// committed archive that decodes blocks ahead of the caller.
//
// Backend calls and dedup decisions happen on the goroutine that calls
// Write or Read. Only encoding and decoding run on worker goroutines,
// and their results are consumed in block order.
package stream
