// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nimbstor/nimbstor/lib/compression"
	"github.com/nimbstor/nimbstor/lib/dedup"
)

func clearEnvironment(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"NIMBSTOR_CONFIG", "NIMBSTOR_REPOSITORY", "NIMBSTOR_BACKEND",
		"NIMBSTOR_WORKERS", "NIMBSTOR_COMPRESSION", "NIMBSTOR_PASSWORD_FILE",
	} {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Repository.Backend != BackendFilesystem {
		t.Errorf("expected backend=filesystem, got %s", cfg.Repository.Backend)
	}
	if cfg.Archive.BlockSize != dedup.DefaultBlockSize {
		t.Errorf("expected block_size=%d, got %d", dedup.DefaultBlockSize, cfg.Archive.BlockSize)
	}
	if !cfg.Archive.CommitEmpty {
		t.Error("expected commit_empty=true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default configuration is invalid: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnvironment(t)
	t.Setenv("HOME", "/home/tester")
	path := writeConfig(t, `
repository:
  path: ${HOME}/backups
  backend: sqlite
archive:
  compression: lz4
  workers: 4
  commit_empty: false
password:
  file: ${NIMBSTOR_REPOSITORY}/password
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Repository.Path != "/home/tester/backups" {
		t.Errorf("expected expanded repository path, got %s", cfg.Repository.Path)
	}
	if cfg.Password.File != "/home/tester/backups/password" {
		t.Errorf("expected password file under the repository, got %s", cfg.Password.File)
	}
	if cfg.Repository.Backend != BackendSQLite || cfg.Archive.Workers != 4 || cfg.Archive.CommitEmpty {
		t.Errorf("file values not applied: %+v", cfg)
	}
	// Unset fields keep their defaults.
	if cfg.Archive.BlockSize != dedup.DefaultBlockSize {
		t.Errorf("expected default block size, got %d", cfg.Archive.BlockSize)
	}
	spec, err := cfg.CompressionSpec()
	if err != nil || spec.Codec != compression.LZ4 {
		t.Errorf("CompressionSpec() = %v, %v", spec, err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnvironment(t)
	path := writeConfig(t, "repository:\n  path: /from/file\n")
	t.Setenv("NIMBSTOR_CONFIG", path)
	t.Setenv("NIMBSTOR_REPOSITORY", "/from/env")
	t.Setenv("NIMBSTOR_BACKEND", "bolt")
	t.Setenv("NIMBSTOR_WORKERS", "8")
	t.Setenv("NIMBSTOR_COMPRESSION", "gzip:9")
	t.Setenv("NIMBSTOR_PASSWORD_FILE", "/secret/password")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Repository.Path != "/from/env" || cfg.Repository.Backend != BackendBolt {
		t.Errorf("repository overrides not applied: %+v", cfg.Repository)
	}
	if cfg.Archive.Workers != 8 || cfg.Archive.Compression != "gzip:9" {
		t.Errorf("archive overrides not applied: %+v", cfg.Archive)
	}
	if cfg.Password.File != "/secret/password" {
		t.Errorf("password override not applied: %+v", cfg.Password)
	}

	t.Setenv("NIMBSTOR_WORKERS", "many")
	if _, err := Load(); err == nil {
		t.Error("expected an error for a non-numeric NIMBSTOR_WORKERS")
	}
}

func TestLoadMissing(t *testing.T) {
	clearEnvironment(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() without a file failed: %v", err)
	}
	if cfg.Repository.Backend != BackendFilesystem {
		t.Errorf("expected defaults, got %+v", cfg.Repository)
	}

	t.Setenv("NIMBSTOR_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected a not-exist error for an explicit path, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"backend", func(c *Config) { c.Repository.Backend = "tape" }, "repository.backend"},
		{"path", func(c *Config) { c.Repository.Path = "" }, "repository.path"},
		{"block size", func(c *Config) { c.Archive.BlockSize = 100 }, "archive.block_size"},
		{"compression", func(c *Config) { c.Archive.Compression = "brotli" }, "archive.compression"},
		{"level", func(c *Config) { c.Archive.Compression = "zstd:99" }, "archive.compression"},
		{"cipher", func(c *Config) { c.Archive.Cipher = "rot13" }, "archive.cipher"},
		{"workers", func(c *Config) { c.Archive.Workers = 0 }, "archive.workers"},
		{"two sources", func(c *Config) {
			c.Password.File = "/a"
			c.Password.Env = "PASSWORD"
		}, "only one"},
		{"sealed without identity", func(c *Config) { c.Password.SealedFile = "/sealed" }, "identity_file"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.modify(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("Validate() = %v, want an error mentioning %q", err, test.want)
			}
		})
	}
}

func TestWriteFile(t *testing.T) {
	clearEnvironment(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Repository.Path = "/srv/backups"
	cfg.Archive.Cipher = "aes-256-cbc"
	cfg.Password.Env = "BACKUP_PASSWORD"
	if err := cfg.WriteFile(path); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if loaded.Repository.Path != "/srv/backups" || loaded.Archive.Cipher != "aes-256-cbc" || loaded.Password.Env != "BACKUP_PASSWORD" {
		t.Errorf("written configuration did not load back: %+v", loaded)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}
}
