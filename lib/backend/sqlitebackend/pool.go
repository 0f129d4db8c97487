// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitebackend

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// defaultPoolSize covers the session goroutine plus concurrent readers
// such as a FUSE mount.
const defaultPoolSize = 4

const schema = `
CREATE TABLE IF NOT EXISTS blocks (
	number    INTEGER NOT NULL,
	checksum1 INTEGER NOT NULL,
	checksum2 TEXT    NOT NULL,
	data      BLOB    NOT NULL,
	session   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (number, checksum1, checksum2)
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS blocks_session ON blocks (session) WHERE session != 0;
`

// pool wraps sqlitex.Pool with the connection setup every backend
// connection needs.
type pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

func openPool(path string, size int, logger *slog.Logger) (*pool, error) {
	if size <= 0 {
		size = defaultPoolSize
	}
	inner, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite repository %s: %w", path, err)
	}
	logger.Debug("sqlite pool opened", "path", path, "pool_size", size)
	return &pool{inner: inner, logger: logger, path: path}, nil
}

func (p *pool) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("taking sqlite connection: %w", err)
	}
	return conn, nil
}

func (p *pool) put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

func (p *pool) close() error {
	if err := p.inner.Close(); err != nil {
		return fmt.Errorf("closing sqlite repository %s: %w", p.path, err)
	}
	p.logger.Debug("sqlite pool closed", "path", p.path)
	return nil
}

// prepareConnection applies the pragmas for a single-writer WAL
// database and ensures the schema exists.
func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
