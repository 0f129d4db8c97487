// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package boltbackend stores blocks in a single bbolt database file.
//
// Committed blocks live in the "blocks" bucket. A session writes into
// the "staging" bucket; commit moves staged entries into "blocks" in one
// transaction and a discarded session drops the staging bucket. Staged
// entries found at Open belong to a crashed session and are dropped.
package boltbackend

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/nimbstor/nimbstor/lib/archive"
	"github.com/nimbstor/nimbstor/lib/backend"
)

var (
	bucketBlocks  = []byte("blocks")
	bucketStaging = []byte("staging")
)

// lockTimeout bounds how long Open waits for another process holding
// the database.
const lockTimeout = 5 * time.Second

// Backend is a bbolt-backed repository.
type Backend struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
	db *bbolt.DB
}

// New returns a backend over the database file at path.
func New(path string, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Backend{path: path, logger: logger}
}

// blockKey encodes an identity so that cursor order matches
// backend.SortIDs: number and weak checksum big-endian, then the strong
// checksum.
func blockKey(id archive.BlockID) []byte {
	key := make([]byte, 12, 12+len(id.Checksum2))
	binary.BigEndian.PutUint64(key[0:8], id.Number)
	binary.BigEndian.PutUint32(key[8:12], id.Checksum1)
	return append(key, id.Checksum2...)
}

func parseKey(key []byte) (archive.BlockID, error) {
	if len(key) < 12 {
		return archive.BlockID{}, fmt.Errorf("block key of %d bytes is too short", len(key))
	}
	return archive.BlockID{
		Number:    binary.BigEndian.Uint64(key[0:8]),
		Checksum1: binary.BigEndian.Uint32(key[8:12]),
		Checksum2: string(key[12:]),
	}, nil
}

func (b *Backend) Open(ctx context.Context, sink backend.BlockInfoSink) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return backend.ErrAlreadyOpen
	}

	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating repository directory: %w", err)
	}
	db, err := bbolt.Open(b.path, 0o600, &bbolt.Options{Timeout: lockTimeout})
	if err != nil {
		return fmt.Errorf("opening bolt repository %s: %w", b.path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if staging := tx.Bucket(bucketStaging); staging != nil {
			if abandoned := staging.Stats().KeyN; abandoned > 0 {
				b.logger.Warn("removed blocks of an abandoned session", "blocks", abandoned)
			}
			if err := tx.DeleteBucket(bucketStaging); err != nil {
				return fmt.Errorf("dropping staging bucket: %w", err)
			}
		}
		for _, name := range [][]byte{bucketBlocks, bucketStaging} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return err
	}

	count := 0
	err = db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBlocks).ForEach(func(key, _ []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			id, err := parseKey(key)
			if err != nil {
				return err
			}
			sink.AppendBlockInfo(id)
			count++
			return nil
		})
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("listing committed blocks: %w", err)
	}

	b.db = db
	b.logger.Debug("bolt backend opened", "path", b.path, "blocks", count)
	return nil
}

func (b *Backend) current() (*bbolt.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil, backend.ErrClosed
	}
	return b.db, nil
}

func (b *Backend) ReadBuffer(ctx context.Context, id archive.BlockID) ([]byte, error) {
	db, err := b.current()
	if err != nil {
		return nil, err
	}
	key := blockKey(id)
	var data []byte
	err = db.View(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketStaging, bucketBlocks} {
			if value := tx.Bucket(name).Get(key); value != nil {
				// Values are only valid for the life of the transaction.
				data = bytes.Clone(value)
				return nil
			}
		}
		return backend.NotFound(id)
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (b *Backend) WriteBuffer(ctx context.Context, data []byte, id archive.BlockID) error {
	db, err := b.current()
	if err != nil {
		return err
	}
	key := blockKey(id)
	return db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketBlocks).Get(key) != nil {
			return nil
		}
		staging := tx.Bucket(bucketStaging)
		if staging.Get(key) != nil {
			return nil
		}
		if err := staging.Put(key, data); err != nil {
			return fmt.Errorf("writing block %s: %w", id, err)
		}
		return nil
	})
}

func (b *Backend) Close(dontCommit bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}

	finishErr := b.db.Update(func(tx *bbolt.Tx) error {
		if !dontCommit {
			blocks := tx.Bucket(bucketBlocks)
			err := tx.Bucket(bucketStaging).ForEach(func(key, value []byte) error {
				return blocks.Put(bytes.Clone(key), bytes.Clone(value))
			})
			if err != nil {
				return fmt.Errorf("committing staged blocks: %w", err)
			}
		}
		if err := tx.DeleteBucket(bucketStaging); err != nil {
			return fmt.Errorf("dropping staging bucket: %w", err)
		}
		_, err := tx.CreateBucket(bucketStaging)
		return err
	})
	closeErr := b.db.Close()
	b.db = nil
	return errors.Join(finishErr, closeErr)
}
