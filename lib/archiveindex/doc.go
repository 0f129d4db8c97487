// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package archiveindex answers questions about the committed archives
// of a repository: which archives match some keywords, how archives
// derive from each other, whether every block of an archive still
// decodes, and whether a block identity exists at all.
//
// Everything here reads archive records through a [Repository], which
// a *stream.Session satisfies. A record that cannot be read is reported
// per archive and never aborts a listing or search.
package archiveindex
