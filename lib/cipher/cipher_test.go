// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package cipher

import (
	"bytes"
	"errors"
	"testing"

	"github.com/nimbstor/nimbstor/lib/archive"
)

func deriveForTest(t *testing.T, password string) *Keys {
	t.Helper()
	keys, err := DeriveKeys([]byte(password))
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}
	t.Cleanup(func() { keys.Close() })
	return keys
}

func TestDeriveKeys(t *testing.T) {
	first := deriveForTest(t, "correct horse")
	second := deriveForTest(t, "correct horse")
	other := deriveForTest(t, "battery staple")

	if !bytes.Equal(first.Encryption(), second.Encryption()) {
		t.Error("same password produced different encryption keys")
	}
	if !bytes.Equal(first.ChecksumSecret(), second.ChecksumSecret()) {
		t.Error("same password produced different checksum secrets")
	}
	if bytes.Equal(first.Encryption(), other.Encryption()) {
		t.Error("different passwords produced the same encryption key")
	}
	if bytes.Equal(first.Encryption(), first.ChecksumSecret()) {
		t.Error("encryption key and checksum secret are equal")
	}
	if len(first.Encryption()) != KeySize || len(first.ChecksumSecret()) != KeySize {
		t.Errorf("subkey sizes %d/%d, want %d", len(first.Encryption()), len(first.ChecksumSecret()), KeySize)
	}

	password := []byte("unchanged")
	keys, err := DeriveKeys(password)
	if err != nil {
		t.Fatal(err)
	}
	keys.Close()
	if string(password) != "unchanged" {
		t.Errorf("DeriveKeys modified the password: %q", password)
	}
}

func TestDeriveKeysRejectsEmpty(t *testing.T) {
	if _, err := DeriveKeys(nil); err == nil {
		t.Error("DeriveKeys(nil) succeeded")
	}
}

func TestKeysClose(t *testing.T) {
	keys, err := DeriveKeys([]byte("pw"))
	if err != nil {
		t.Fatal(err)
	}
	if err := keys.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := keys.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Error("reading closed keys did not panic")
		}
	}()
	keys.Encryption()
}

func TestCipherRoundTrip(t *testing.T) {
	registry := NewRegistry()
	keys := deriveForTest(t, "round trip")
	plaintext := bytes.Repeat([]byte("0123456789abcdef"), 64)

	for _, name := range registry.Names() {
		t.Run(name, func(t *testing.T) {
			cipher, err := registry.Resolve(name, keys)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if cipher.Name() != name {
				t.Errorf("Name() = %q", cipher.Name())
			}
			sealed, err := cipher.Seal(plaintext)
			if err != nil {
				t.Fatalf("Seal: %v", err)
			}
			if bytes.Contains(sealed, plaintext[:32]) {
				t.Error("ciphertext contains plaintext")
			}
			again, err := cipher.Seal(plaintext)
			if err != nil {
				t.Fatal(err)
			}
			if bytes.Equal(sealed, again) {
				t.Error("two seals of the same plaintext are identical")
			}
			opened, err := cipher.Open(sealed)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if !bytes.Equal(opened, plaintext) {
				t.Error("round trip mismatch")
			}
		})
	}
}

func TestWrongKey(t *testing.T) {
	registry := NewRegistry()
	right := deriveForTest(t, "right")
	wrong := deriveForTest(t, "wrong")
	plaintext := bytes.Repeat([]byte{0x42}, 256)

	for _, name := range registry.Names() {
		sealer, err := registry.Resolve(name, right)
		if err != nil {
			t.Fatal(err)
		}
		opener, err := registry.Resolve(name, wrong)
		if err != nil {
			t.Fatal(err)
		}
		sealed, err := sealer.Seal(plaintext)
		if err != nil {
			t.Fatal(err)
		}
		opened, err := opener.Open(sealed)
		if err == nil && bytes.Equal(opened, plaintext) {
			t.Errorf("%s: wrong key recovered the plaintext", name)
		}
		if err != nil && !errors.Is(err, archive.ErrIntegrity) {
			t.Errorf("%s: wrong key error = %v, want ErrIntegrity", name, err)
		}
	}
}

func TestOpenRejectsDamage(t *testing.T) {
	registry := NewRegistry()
	keys := deriveForTest(t, "damage")
	aead, err := registry.Resolve(XChaCha20Poly1305, keys)
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := aead.Seal(make([]byte, 32))
	if err != nil {
		t.Fatal(err)
	}
	sealed[len(sealed)-1] ^= 1
	if _, err := aead.Open(sealed); !errors.Is(err, archive.ErrIntegrity) {
		t.Errorf("flipped tag: %v, want ErrIntegrity", err)
	}
	if _, err := aead.Open(sealed[:10]); !errors.Is(err, archive.ErrIntegrity) {
		t.Errorf("short blob: %v, want ErrIntegrity", err)
	}

	cbc, err := registry.Resolve(AES256CBC, keys)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cbc.Open(make([]byte, 17)); !errors.Is(err, archive.ErrIntegrity) {
		t.Errorf("misaligned CBC: %v, want ErrIntegrity", err)
	}
	if _, err := cbc.Seal(make([]byte, 15)); err == nil {
		t.Error("CBC sealed unaligned plaintext")
	}
}

func TestResolve(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"", None} {
		cipher, err := registry.Resolve(name, nil)
		if err != nil || cipher != nil {
			t.Errorf("Resolve(%q) = %v, %v; want nil, nil", name, cipher, err)
		}
	}
	if _, err := registry.Resolve("rot13", nil); !errors.Is(err, archive.ErrUnsupportedCodec) {
		t.Errorf("Resolve(rot13) = %v, want ErrUnsupportedCodec", err)
	}
	if _, err := registry.Resolve(AES256CBC, nil); err == nil {
		t.Error("Resolve without keys succeeded")
	}
}
