// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend defines the storage contract of a nimbstor
// repository and provides an in-memory implementation.
//
// A [Backend] stores opaque encoded blocks under their
// [archive.BlockID]. Opening a backend replays the identity of every
// committed block into a [BlockInfoSink]; that replay is the only way
// the engine learns what already exists. Writes made during a session
// are visible to reads in the same session immediately, but only
// become durable when the backend is closed with dontCommit false.
//
// Concrete backends live in subpackages (fsbackend, containerbackend,
// sqlitebackend, boltbackend). Package backendtest holds the
// conformance suite they all run.
package backend
