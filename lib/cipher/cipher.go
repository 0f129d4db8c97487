// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package cipher

import (
	"errors"
	"fmt"
	"slices"

	"github.com/nimbstor/nimbstor/lib/archive"
)

// BlockAlign is the alignment the block codec pads plaintext to
// whenever a cipher is in use.
const BlockAlign = 16

// None is the configuration name for an unencrypted repository.
const None = "none"

// Cipher encrypts whole encoded blocks. Implementations are safe for
// concurrent use.
type Cipher interface {
	Name() string

	// Seal encrypts plaintext, whose length is a multiple of
	// BlockAlign.
	Seal(plaintext []byte) ([]byte, error)

	// Open decrypts ciphertext. Authentication and framing failures
	// wrap archive.ErrIntegrity.
	Open(ciphertext []byte) ([]byte, error)
}

// Factory builds a cipher from a 32-byte key.
type Factory func(key []byte) (Cipher, error)

// Registry maps cipher names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in ciphers.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{
		AES256CBC:         newAESCBC,
		XChaCha20Poly1305: newXChaCha,
	}}
}

// Register adds or replaces a cipher.
func (r *Registry) Register(name string, factory Factory) {
	r.factories[name] = factory
}

// Names lists registered ciphers, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Check reports whether name is "none" or registered.
func (r *Registry) Check(name string) error {
	if name == "" || name == None {
		return nil
	}
	if _, ok := r.factories[name]; !ok {
		return &archive.CodecError{Kind: "cipher", Name: name}
	}
	return nil
}

// Resolve builds the named cipher keyed with keys' encryption subkey.
// "none" and "" resolve to a nil Cipher.
func (r *Registry) Resolve(name string, keys *Keys) (Cipher, error) {
	if err := r.Check(name); err != nil {
		return nil, err
	}
	if name == "" || name == None {
		return nil, nil
	}
	if keys == nil {
		return nil, fmt.Errorf("cipher %s requires a password", name)
	}
	cipher, err := r.factories[name](keys.Encryption())
	if err != nil {
		return nil, fmt.Errorf("cipher %s: %w", name, err)
	}
	return cipher, nil
}

func integrityError(reason string) error {
	return fmt.Errorf("%w: %s", archive.ErrIntegrity, reason)
}

var errKeySize = errors.New("key must be 32 bytes")
