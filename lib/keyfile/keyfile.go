// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package keyfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
	"github.com/google/renameio"
)

// Identity is an age x25519 keypair.
type Identity struct {
	// PrivateKey is in AGE-SECRET-KEY-1... format. It must never be
	// logged or passed on a command line.
	PrivateKey string

	// PublicKey is the age1... recipient.
	PublicKey string
}

// GenerateIdentity returns a new x25519 identity.
func GenerateIdentity() (*Identity, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}
	return &Identity{
		PrivateKey: identity.String(),
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// WriteIdentity generates an identity and stores its private key at
// path in the age-keygen layout. It refuses to replace an existing
// file.
func WriteIdentity(path string) (*Identity, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("identity file %s already exists", path)
	}
	identity, err := GenerateIdentity()
	if err != nil {
		return nil, err
	}
	content := fmt.Sprintf("# public key: %s\n%s\n", identity.PublicKey, identity.PrivateKey)
	if err := writePrivate(path, []byte(content)); err != nil {
		return nil, err
	}
	return identity, nil
}

// ReadIdentity parses the first identity in an age identity file.
func ReadIdentity(path string) (*Identity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	identities, err := age.ParseIdentities(file)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for _, candidate := range identities {
		if x25519, ok := candidate.(*age.X25519Identity); ok {
			return &Identity{
				PrivateKey: x25519.String(),
				PublicKey:  x25519.Recipient().String(),
			}, nil
		}
	}
	return nil, fmt.Errorf("%s holds no x25519 identity", path)
}

// Seal encrypts password to every recipient and returns the armored
// ciphertext. At least one recipient is required.
func Seal(password []byte, recipientKeys []string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	if len(password) == 0 {
		return nil, errors.New("refusing to seal an empty password")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var sealed bytes.Buffer
	armored := armor.NewWriter(&sealed)
	writer, err := age.Encrypt(armored, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(password); err != nil {
		return nil, fmt.Errorf("writing password to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("finalizing armor: %w", err)
	}
	return sealed.Bytes(), nil
}

// Open decrypts an armored payload produced by [Seal]. The caller
// should clear the returned password once it is no longer needed.
func Open(sealed []byte, privateKey string) ([]byte, error) {
	identity, err := age.ParseX25519Identity(strings.TrimSpace(privateKey))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	reader, err := age.Decrypt(armor.NewReader(bytes.NewReader(sealed)), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	password, err := io.ReadAll(reader)
	if err != nil {
		clear(password)
		return nil, fmt.Errorf("reading decrypted password: %w", err)
	}
	if len(password) == 0 {
		return nil, errors.New("sealed password is empty")
	}
	return password, nil
}

// SealFile seals password to recipients and writes it to path.
func SealFile(path string, password []byte, recipientKeys []string) error {
	sealed, err := Seal(password, recipientKeys)
	if err != nil {
		return err
	}
	return writePrivate(path, sealed)
}

// OpenFile reads the sealed password at sealedPath with the identity
// stored at identityPath.
func OpenFile(sealedPath, identityPath string) ([]byte, error) {
	identity, err := ReadIdentity(identityPath)
	if err != nil {
		return nil, err
	}
	sealed, err := os.ReadFile(sealedPath)
	if err != nil {
		return nil, err
	}
	password, err := Open(sealed, identity.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", sealedPath, err)
	}
	return password, nil
}

func writePrivate(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
