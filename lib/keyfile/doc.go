// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package keyfile keeps the repository password at rest, sealed with
// age to an x25519 identity so that unattended backups never need the
// password in plain text on disk.
//
// Files are ASCII-armored age payloads. Identity and sealed files are
// written atomically with mode 0600.
//
// Key exports:
//
//   - [GenerateIdentity] / [WriteIdentity] -- new x25519 identity
//   - [Seal] / [SealFile] -- encrypt a password to recipients
//   - [Open] / [OpenFile] -- decrypt with an identity
package keyfile
