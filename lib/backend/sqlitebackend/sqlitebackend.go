// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitebackend stores blocks as rows of a SQLite database.
//
// Every row carries the id of the session that wrote it. Committed rows
// have session 0; commit is a single UPDATE and a discarded session is
// a single DELETE. Rows left behind by a crashed session are deleted
// when the database is next opened.
package sqlitebackend

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/nimbstor/nimbstor/lib/archive"
	"github.com/nimbstor/nimbstor/lib/backend"
)

// Backend is a SQLite-backed repository.
type Backend struct {
	path     string
	poolSize int
	logger   *slog.Logger

	mu      sync.Mutex
	pool    *pool
	session int64
}

// New returns a backend over the database file at path. poolSize 0
// uses a small default.
func New(path string, poolSize int, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Backend{path: path, poolSize: poolSize, logger: logger}
}

func (b *Backend) Open(ctx context.Context, sink backend.BlockInfoSink) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pool != nil {
		return backend.ErrAlreadyOpen
	}

	opened, err := openPool(b.path, b.poolSize, b.logger)
	if err != nil {
		return err
	}
	conn, err := opened.take(ctx)
	if err != nil {
		opened.close()
		return err
	}
	defer opened.put(conn)

	if err := sqlitex.Execute(conn, "DELETE FROM blocks WHERE session != 0", nil); err != nil {
		opened.close()
		return fmt.Errorf("removing abandoned session rows: %w", err)
	}
	if removed := conn.Changes(); removed > 0 {
		b.logger.Warn("removed blocks of an abandoned session", "rows", removed)
	}

	count := 0
	err = sqlitex.Execute(conn,
		"SELECT number, checksum1, checksum2 FROM blocks WHERE session = 0 ORDER BY number, checksum1, checksum2",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				sink.AppendBlockInfo(archive.BlockID{
					Number:    uint64(stmt.ColumnInt64(0)),
					Checksum1: uint32(stmt.ColumnInt64(1)),
					Checksum2: stmt.ColumnText(2),
				})
				count++
				return nil
			},
		})
	if err != nil {
		opened.close()
		return fmt.Errorf("listing committed blocks: %w", err)
	}

	b.pool = opened
	b.session = 1 + rand.Int64N(1<<62)
	b.logger.Debug("sqlite backend opened", "path", b.path, "blocks", count)
	return nil
}

func (b *Backend) current() (*pool, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pool == nil {
		return nil, 0, backend.ErrClosed
	}
	return b.pool, b.session, nil
}

func (b *Backend) ReadBuffer(ctx context.Context, id archive.BlockID) ([]byte, error) {
	opened, _, err := b.current()
	if err != nil {
		return nil, err
	}
	conn, err := opened.take(ctx)
	if err != nil {
		return nil, err
	}
	defer opened.put(conn)

	var data []byte
	found := false
	err = sqlitex.Execute(conn,
		"SELECT data FROM blocks WHERE number = ? AND checksum1 = ? AND checksum2 = ?",
		&sqlitex.ExecOptions{
			Args: []any{int64(id.Number), int64(id.Checksum1), id.Checksum2},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				data = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, data)
				found = true
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("reading block %s: %w", id, err)
	}
	if !found {
		return nil, backend.NotFound(id)
	}
	return data, nil
}

func (b *Backend) WriteBuffer(ctx context.Context, data []byte, id archive.BlockID) error {
	opened, session, err := b.current()
	if err != nil {
		return err
	}
	conn, err := opened.take(ctx)
	if err != nil {
		return err
	}
	defer opened.put(conn)

	err = sqlitex.Execute(conn,
		"INSERT OR IGNORE INTO blocks (number, checksum1, checksum2, data, session) VALUES (?, ?, ?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{int64(id.Number), int64(id.Checksum1), id.Checksum2, data, session},
		})
	if err != nil {
		return fmt.Errorf("writing block %s: %w", id, err)
	}
	return nil
}

func (b *Backend) Close(dontCommit bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pool == nil {
		return nil
	}

	statement := "UPDATE blocks SET session = 0 WHERE session = ?"
	if dontCommit {
		statement = "DELETE FROM blocks WHERE session = ?"
	}

	var closeErr error
	conn, err := b.pool.take(context.Background())
	if err != nil {
		closeErr = err
	} else {
		if err := sqlitex.Execute(conn, statement, &sqlitex.ExecOptions{Args: []any{b.session}}); err != nil {
			closeErr = fmt.Errorf("finishing session: %w", err)
		}
		b.pool.put(conn)
	}
	if err := b.pool.close(); err != nil && closeErr == nil {
		closeErr = err
	}
	b.pool = nil
	b.session = 0
	return closeErr
}
