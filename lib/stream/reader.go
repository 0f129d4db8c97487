// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"fmt"
	"io"

	"github.com/nimbstor/nimbstor/lib/archive"
	"github.com/nimbstor/nimbstor/lib/compression"
	"github.com/nimbstor/nimbstor/lib/pipeline"
)

// Reader reproduces the byte stream of a committed archive. It
// implements io.Reader and io.WriterTo.
type Reader struct {
	ctx     context.Context
	session *Session
	record  *archive.Archive
	decoder *pipeline.Ordered[[]byte]

	// next is the index of the next block to submit for decoding.
	next int

	// buffered holds decoded bytes not yet returned; offset is the
	// start of the unread part.
	buffered []byte
	offset   int

	err error
}

func newReader(ctx context.Context, session *Session, record *archive.Archive) (*Reader, error) {
	// Blocks carry their own codec tag, but an archive written with a
	// codec this build cannot decode is rejected up front.
	spec, err := compression.ParseSpec(record.Compression)
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", record.ID, err)
	}
	if _, err := session.compressions.Resolve(spec); err != nil {
		return nil, fmt.Errorf("archive %s: %w", record.ID, err)
	}

	r := &Reader{ctx: ctx, session: session, record: record}
	workers := session.workers
	if workers < 2 {
		workers = 0
	}
	r.decoder = pipeline.New(workers, func(plaintext []byte) error {
		r.buffered = append(r.buffered, plaintext...)
		return nil
	})
	return r, nil
}

// Record returns the archive's metadata record.
func (r *Reader) Record() *archive.Archive { return r.record }

// Metainfo returns the archive's opaque metainfo.
func (r *Reader) Metainfo() any { return r.record.Metainfo }

// Size returns the archive's logical size.
func (r *Reader) Size() int64 { return r.record.Size }

// submit reads the next block on the calling goroutine and queues its
// decoding.
func (r *Reader) submit() error {
	block := r.record.Blocks[r.next]
	r.next++
	stored, err := r.session.backend.ReadBuffer(r.ctx, block.ID())
	if err != nil {
		return fmt.Errorf("reading archive %s: %w", r.record.ID, err)
	}
	return r.decoder.Submit(func() ([]byte, error) {
		return r.session.decodeBlock(stored, block)
	})
}

// fill decodes blocks until at least want bytes are buffered or the
// archive is exhausted.
func (r *Reader) fill(want int) error {
	if len(r.buffered)-r.offset >= want {
		return nil
	}
	if r.offset > 0 {
		unread := copy(r.buffered, r.buffered[r.offset:])
		r.buffered, r.offset = r.buffered[:unread], 0
	}
	for len(r.buffered)-r.offset < want {
		if err := r.session.checkOpen(); err != nil {
			return err
		}
		switch {
		case r.next < len(r.record.Blocks):
			if err := r.submit(); err != nil {
				return err
			}
		case r.decoder.Pending() > 0:
			if err := r.decoder.Drain(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
	return nil
}

// Read returns up to len(p) bytes of the archive in order. It returns
// io.EOF once every block has been returned.
func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := r.fill(len(p)); err != nil {
		r.err = err
		return 0, err
	}
	n := copy(p, r.buffered[r.offset:])
	r.offset += n
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// WriteTo writes the rest of the archive to w.
func (r *Reader) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for {
		if r.err != nil {
			return total, r.err
		}
		if err := r.fill(r.session.blockSize); err != nil {
			r.err = err
			return total, err
		}
		pending := r.buffered[r.offset:]
		if len(pending) == 0 {
			return total, nil
		}
		n, err := w.Write(pending)
		r.offset += n
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
}

// Close stops any decoding in progress.
func (r *Reader) Close() error {
	r.decoder.Close()
	return nil
}
