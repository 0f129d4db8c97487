// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/google/renameio"
	"gopkg.in/yaml.v3"

	"github.com/nimbstor/nimbstor/lib/cipher"
	"github.com/nimbstor/nimbstor/lib/compression"
	"github.com/nimbstor/nimbstor/lib/dedup"
)

// Backend kinds.
const (
	BackendFilesystem = "filesystem"
	BackendContainer  = "container"
	BackendSQLite     = "sqlite"
	BackendBolt       = "bolt"
	BackendMemory     = "memory"
)

// Backends lists every accepted repository.backend value.
var Backends = []string{BackendFilesystem, BackendContainer, BackendSQLite, BackendBolt, BackendMemory}

// Config is the complete nimbstor configuration.
type Config struct {
	Repository RepositoryConfig `yaml:"repository"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Password   PasswordConfig   `yaml:"password"`
}

// RepositoryConfig locates the repository.
type RepositoryConfig struct {
	// Path is the repository directory, or the file for the
	// container, sqlite and bolt backends.
	Path string `yaml:"path"`

	// Backend is one of Backends.
	Backend string `yaml:"backend"`
}

// ArchiveConfig controls how archives are written.
type ArchiveConfig struct {
	// BlockSize is the dedup window in bytes.
	// Default: 4 MiB
	BlockSize int `yaml:"block_size"`

	// Compression is "name" or "name:level".
	// Default: zstd:3
	Compression string `yaml:"compression"`

	// Cipher is none, aes-256-cbc or xchacha20-poly1305.
	// Default: none
	Cipher string `yaml:"cipher"`

	// Workers is the encode/decode pool size.
	// Default: 1
	Workers int `yaml:"workers"`

	// CommitEmpty commits archives whose content was entirely
	// deduplicated.
	// Default: true
	CommitEmpty bool `yaml:"commit_empty"`

	// VerifyMatches reads back every deduplicated block before
	// referencing it.
	VerifyMatches bool `yaml:"verify_matches"`
}

// PasswordConfig names where the repository password comes from. At
// most one source may be set.
type PasswordConfig struct {
	// File holds the password in plain text.
	File string `yaml:"file"`

	// SealedFile holds the password sealed with age; IdentityFile
	// holds the identity that opens it.
	SealedFile   string `yaml:"sealed_file"`
	IdentityFile string `yaml:"identity_file"`

	// Env names an environment variable holding the password.
	Env string `yaml:"env"`
}

// Configured reports whether any password source is set.
func (p PasswordConfig) Configured() bool {
	return p.File != "" || p.SealedFile != "" || p.Env != ""
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Repository: RepositoryConfig{
			Path:    "${HOME}/.local/share/nimbstor/repository",
			Backend: BackendFilesystem,
		},
		Archive: ArchiveConfig{
			BlockSize:   dedup.DefaultBlockSize,
			Compression: "zstd:3",
			Cipher:      cipher.None,
			Workers:     1,
			CommitEmpty: true,
		},
	}
}

// DefaultPath returns the configuration path used when NIMBSTOR_CONFIG
// is not set.
func DefaultPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "nimbstor", "config.yaml")
}

// Load loads the file named by NIMBSTOR_CONFIG, or the default path.
// Only a missing file at the default path falls back to Default.
func Load() (*Config, error) {
	if path := os.Getenv("NIMBSTOR_CONFIG"); path != "" {
		return LoadFile(path)
	}
	cfg, err := LoadFile(DefaultPath())
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		if err := cfg.finish(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return cfg, err
}

// LoadFile loads configuration from path on top of the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) finish() error {
	if err := c.applyEnvironmentOverrides(); err != nil {
		return err
	}
	c.expandVariables()
	return nil
}

// applyEnvironmentOverrides applies the NIMBSTOR_* variables.
func (c *Config) applyEnvironmentOverrides() error {
	if value := os.Getenv("NIMBSTOR_REPOSITORY"); value != "" {
		c.Repository.Path = value
	}
	if value := os.Getenv("NIMBSTOR_BACKEND"); value != "" {
		c.Repository.Backend = value
	}
	if value := os.Getenv("NIMBSTOR_COMPRESSION"); value != "" {
		c.Archive.Compression = value
	}
	if value := os.Getenv("NIMBSTOR_PASSWORD_FILE"); value != "" {
		c.Password = PasswordConfig{File: value}
	}
	if value := os.Getenv("NIMBSTOR_WORKERS"); value != "" {
		workers, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("NIMBSTOR_WORKERS: %w", err)
		}
		c.Archive.Workers = workers
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Repository.Path = expandVars(c.Repository.Path, vars)
	vars["NIMBSTOR_REPOSITORY"] = c.Repository.Path

	c.Password.File = expandVars(c.Password.File, vars)
	c.Password.SealedFile = expandVars(c.Password.SealedFile, vars)
	c.Password.IdentityFile = expandVars(c.Password.IdentityFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Repository.Path == "" {
		errs = append(errs, errors.New("repository.path is required"))
	}
	if !contains(Backends, c.Repository.Backend) {
		errs = append(errs, fmt.Errorf("repository.backend must be one of: %v", Backends))
	}

	if err := dedup.ValidateBlockSize(c.Archive.BlockSize); err != nil {
		errs = append(errs, fmt.Errorf("archive.block_size: %w", err))
	}
	if _, err := compression.ParseSpec(c.Archive.Compression); err != nil {
		errs = append(errs, fmt.Errorf("archive.compression: %w", err))
	}
	if err := cipher.NewRegistry().Check(c.Archive.Cipher); err != nil {
		errs = append(errs, fmt.Errorf("archive.cipher: %w", err))
	}
	if c.Archive.Workers < 1 {
		errs = append(errs, fmt.Errorf("archive.workers must be at least 1, got %d", c.Archive.Workers))
	}

	sources := 0
	for _, source := range []string{c.Password.File, c.Password.SealedFile, c.Password.Env} {
		if source != "" {
			sources++
		}
	}
	if sources > 1 {
		errs = append(errs, errors.New("password: set only one of file, sealed_file and env"))
	}
	if c.Password.SealedFile != "" && c.Password.IdentityFile == "" {
		errs = append(errs, errors.New("password.identity_file is required with password.sealed_file"))
	}

	return errors.Join(errs...)
}

// CompressionSpec returns the parsed archive.compression.
func (c *Config) CompressionSpec() (compression.Spec, error) {
	return compression.ParseSpec(c.Archive.Compression)
}

// WriteFile stores the configuration at path, replacing any existing
// file atomically.
func (c *Config) WriteFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
