// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package cipher

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/sys/unix"
)

// KeySize is the size of each derived subkey.
const KeySize = 32

// Argon2id parameters. Changing any of them changes every key, and
// therefore every strong checksum, of every repository.
const (
	kdfTime      = 1
	kdfMemoryKiB = 64 * 1024
	kdfThreads   = 4
)

// kdfSalt is fixed: the derived keys must be reproducible from the
// password alone because the backend contract has nowhere to store a
// per-repository salt.
var kdfSalt = []byte("nimbstor.repository.kdf.v1")

var (
	hkdfInfoEncryption = []byte("nimbstor.block.encryption.v1")
	hkdfInfoChecksum   = []byte("nimbstor.checksum.secret.v1")
)

// Keys holds the encryption subkey and the checksum secret in locked
// memory. It must be closed.
type Keys struct {
	mu     sync.Mutex
	memory []byte
	closed bool
}

// DeriveKeys derives repository keys from password. The password
// slice is not modified.
func DeriveKeys(password []byte) (*Keys, error) {
	if len(password) == 0 {
		return nil, errors.New("cipher: empty password")
	}
	master := argon2.IDKey(password, kdfSalt, kdfTime, kdfMemoryKiB, kdfThreads, KeySize)
	defer clear(master)

	keys, err := lockedKeys()
	if err != nil {
		return nil, err
	}
	if err := expand(master, hkdfInfoEncryption, keys.memory[:KeySize]); err != nil {
		keys.Close()
		return nil, err
	}
	if err := expand(master, hkdfInfoChecksum, keys.memory[KeySize:2*KeySize]); err != nil {
		keys.Close()
		return nil, err
	}
	return keys, nil
}

func expand(master, info, destination []byte) error {
	reader := hkdf.New(sha256.New, master, nil, info)
	if _, err := io.ReadFull(reader, destination); err != nil {
		return fmt.Errorf("cipher: HKDF expand %s: %w", info, err)
	}
	return nil
}

// lockedKeys maps one anonymous page, locks it into RAM and excludes
// it from core dumps.
func lockedKeys() (*Keys, error) {
	memory, err := unix.Mmap(-1, 0, 2*KeySize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("cipher: mmap failed: %w", err)
	}
	if err := unix.Mlock(memory); err != nil {
		unix.Munmap(memory)
		return nil, fmt.Errorf("cipher: mlock failed: %w", err)
	}
	if err := unix.Madvise(memory, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(memory)
		unix.Munmap(memory)
		return nil, fmt.Errorf("cipher: madvise(MADV_DONTDUMP) failed: %w", err)
	}
	return &Keys{memory: memory}, nil
}

// Encryption returns the block encryption subkey. The slice aliases
// locked memory and is invalid after Close.
func (k *Keys) Encryption() []byte {
	return k.slice(0)
}

// ChecksumSecret returns the secret prepended to data by the strong
// checksum. The slice aliases locked memory and is invalid after
// Close.
func (k *Keys) ChecksumSecret() []byte {
	return k.slice(KeySize)
}

func (k *Keys) slice(offset int) []byte {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		panic("cipher: read from closed keys")
	}
	return k.memory[offset : offset+KeySize]
}

// Close zeroes and unmaps the key memory. Calling Close more than once
// is a no-op.
func (k *Keys) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	clear(k.memory)

	var firstError error
	if err := unix.Munlock(k.memory); err != nil {
		firstError = fmt.Errorf("cipher: munlock failed: %w", err)
	}
	if err := unix.Munmap(k.memory); err != nil && firstError == nil {
		firstError = fmt.Errorf("cipher: munmap failed: %w", err)
	}
	k.memory = nil
	return firstError
}
