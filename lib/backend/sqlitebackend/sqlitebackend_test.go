// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitebackend

import (
	"context"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/nimbstor/nimbstor/lib/archive"
	"github.com/nimbstor/nimbstor/lib/backend"
	"github.com/nimbstor/nimbstor/lib/backend/backendtest"
)

func TestConformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backendtest.Factory {
		path := filepath.Join(t.TempDir(), "repository.db")
		return func() backend.Backend { return New(path, 0, nil) }
	})
}

func TestAbandonedSessionRowsRemoved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repository.db")
	ctx := context.Background()

	// Leave a row that belongs to a session that never finished.
	leftover, err := openPool(path, 1, slogDiscard())
	if err != nil {
		t.Fatal(err)
	}
	conn, err := leftover.take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	err = sqlitex.Execute(conn,
		"INSERT INTO blocks (number, checksum1, checksum2, data, session) VALUES (1, 2, 'CRASHED', x'00', 99)", nil)
	if err != nil {
		t.Fatal(err)
	}
	leftover.put(conn)
	if err := leftover.close(); err != nil {
		t.Fatal(err)
	}

	store := New(path, 0, nil)
	recorder := &backendtest.Recorder{}
	if err := store.Open(ctx, recorder); err != nil {
		t.Fatal(err)
	}
	defer store.Close(true)
	if len(recorder.IDs) != 0 {
		t.Errorf("replayed %v from an abandoned session", recorder.IDs)
	}

	opened, _, err := store.current()
	if err != nil {
		t.Fatal(err)
	}
	conn, err = opened.take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer opened.put(conn)
	var rows int64
	err = sqlitex.Execute(conn, "SELECT count(*) FROM blocks", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rows = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if rows != 0 {
		t.Errorf("blocks table holds %d rows, want 0", rows)
	}
	if _, err := store.ReadBuffer(ctx, archive.BlockID{Number: 1, Checksum1: 2, Checksum2: "CRASHED"}); err == nil {
		t.Error("abandoned block is readable")
	}
}
