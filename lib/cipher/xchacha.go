// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package cipher

import (
	stdcipher "crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// XChaCha20Poly1305 is the registry name of the AEAD cipher.
const XChaCha20Poly1305 = "xchacha20-poly1305"

// sealedVersion is the first byte of every XChaCha20-Poly1305 blob and
// is bound into the AEAD as additional data.
const sealedVersion byte = 0x01

// sealedOverhead is the size difference between a sealed blob and its
// plaintext.
const sealedOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

type xchacha struct {
	aead stdcipher.AEAD
}

func newXChaCha(key []byte) (Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errKeySize
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	return &xchacha{aead: aead}, nil
}

func (*xchacha) Name() string { return XChaCha20Poly1305 }

func (c *xchacha) Seal(plaintext []byte) ([]byte, error) {
	output := make([]byte, 1+chacha20poly1305.NonceSizeX, sealedOverhead+len(plaintext))
	output[0] = sealedVersion
	nonce := output[1:]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}
	return c.aead.Seal(output, nonce, plaintext, output[:1]), nil
}

func (c *xchacha) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < sealedOverhead {
		return nil, integrityError(fmt.Sprintf("sealed blob of %d bytes is shorter than the %d byte overhead", len(ciphertext), sealedOverhead))
	}
	if ciphertext[0] != sealedVersion {
		return nil, integrityError(fmt.Sprintf("sealed blob version %d", ciphertext[0]))
	}
	nonce := ciphertext[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext[1+chacha20poly1305.NonceSizeX:], ciphertext[:1])
	if err != nil {
		return nil, integrityError("authentication failed")
	}
	return plaintext, nil
}
