// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package cipher holds the block ciphers and the password-derived key
// material of a repository.
//
// [DeriveKeys] stretches the password with Argon2id and expands the
// result with HKDF-SHA256 into two independent 32-byte subkeys: one
// for block encryption and one used as the strong checksum secret.
// Both live in a single mmap'd, mlock'd region excluded from core
// dumps and are zeroed by [Keys.Close].
//
// A [Registry] maps cipher names to factories; [Registry.Resolve]
// builds a [Cipher] bound to the encryption subkey. Two ciphers are
// built in:
//
//   - "aes-256-cbc": random IV || AES-256-CBC. Input must already be a
//     multiple of 16 bytes; the block codec zero-pads it.
//   - "xchacha20-poly1305": version || 24-byte nonce || sealed box.
//
// Open never distinguishes a wrong key from damaged ciphertext. Both
// surface as [archive.ErrIntegrity], directly for the AEAD and through
// the strong checksum for CBC.
package cipher
