// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package keyfile

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateIdentity(t *testing.T) {
	identity, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity() error: %v", err)
	}
	if !strings.HasPrefix(identity.PrivateKey, "AGE-SECRET-KEY-1") {
		t.Errorf("PrivateKey has unexpected prefix")
	}
	if !strings.HasPrefix(identity.PublicKey, "age1") {
		t.Errorf("PublicKey = %q, want prefix age1", identity.PublicKey)
	}
}

func TestSealOpen(t *testing.T) {
	first, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	second, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	password := []byte("correct horse battery staple")

	sealed, err := Seal(password, []string{first.PublicKey, second.PublicKey})
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if !bytes.HasPrefix(sealed, []byte("-----BEGIN AGE ENCRYPTED FILE-----")) {
		t.Errorf("sealed payload is not armored: %q", sealed[:40])
	}
	if bytes.Contains(sealed, password) {
		t.Error("sealed payload contains the password")
	}

	for _, identity := range []*Identity{first, second} {
		opened, err := Open(sealed, identity.PrivateKey)
		if err != nil {
			t.Fatalf("Open() error: %v", err)
		}
		if !bytes.Equal(opened, password) {
			t.Errorf("Open() = %q, want %q", opened, password)
		}
	}

	outsider, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(sealed, outsider.PrivateKey); err == nil {
		t.Error("Open() with a foreign identity succeeded")
	}
}

func TestSealRejectsBadInput(t *testing.T) {
	identity, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Seal([]byte("password"), nil); err == nil {
		t.Error("Seal() without recipients succeeded")
	}
	if _, err := Seal(nil, []string{identity.PublicKey}); err == nil {
		t.Error("Seal() of an empty password succeeded")
	}
	if _, err := Seal([]byte("password"), []string{"age1notakey"}); err == nil {
		t.Error("Seal() with an invalid recipient succeeded")
	}
}

func TestFiles(t *testing.T) {
	directory := t.TempDir()
	identityPath := filepath.Join(directory, "keys", "identity.txt")
	sealedPath := filepath.Join(directory, "keys", "password.age")

	identity, err := WriteIdentity(identityPath)
	if err != nil {
		t.Fatalf("WriteIdentity() error: %v", err)
	}
	if _, err := WriteIdentity(identityPath); err == nil {
		t.Error("WriteIdentity() replaced an existing identity")
	}

	loaded, err := ReadIdentity(identityPath)
	if err != nil {
		t.Fatalf("ReadIdentity() error: %v", err)
	}
	if loaded.PublicKey != identity.PublicKey {
		t.Errorf("ReadIdentity() public key = %s, want %s", loaded.PublicKey, identity.PublicKey)
	}

	if err := SealFile(sealedPath, []byte("hunter2"), []string{identity.PublicKey}); err != nil {
		t.Fatalf("SealFile() error: %v", err)
	}
	for _, path := range []string{identityPath, sealedPath} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Errorf("%s mode = %v, want 0600", filepath.Base(path), info.Mode().Perm())
		}
	}

	password, err := OpenFile(sealedPath, identityPath)
	if err != nil {
		t.Fatalf("OpenFile() error: %v", err)
	}
	if string(password) != "hunter2" {
		t.Errorf("OpenFile() = %q, want hunter2", password)
	}
}
