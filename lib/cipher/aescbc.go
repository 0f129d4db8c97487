// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// AES256CBC is the registry name of the AES-256-CBC cipher.
const AES256CBC = "aes-256-cbc"

type aesCBC struct {
	block stdcipher.Block
}

func newAESCBC(key []byte) (Cipher, error) {
	if len(key) != 32 {
		return nil, errKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	return &aesCBC{block: block}, nil
}

func (*aesCBC) Name() string { return AES256CBC }

func (c *aesCBC) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("aes-256-cbc: plaintext length %d is not a multiple of %d", len(plaintext), aes.BlockSize)
	}
	output := make([]byte, aes.BlockSize+len(plaintext))
	iv := output[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generating IV: %w", err)
	}
	stdcipher.NewCBCEncrypter(c.block, iv).CryptBlocks(output[aes.BlockSize:], plaintext)
	return output, nil
}

func (c *aesCBC) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < aes.BlockSize || len(ciphertext)%aes.BlockSize != 0 {
		return nil, integrityError(fmt.Sprintf("aes-256-cbc ciphertext length %d", len(ciphertext)))
	}
	iv := ciphertext[:aes.BlockSize]
	plaintext := make([]byte, len(ciphertext)-aes.BlockSize)
	stdcipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plaintext, ciphertext[aes.BlockSize:])
	return plaintext, nil
}
