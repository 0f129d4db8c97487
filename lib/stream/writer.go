// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/nimbstor/nimbstor/lib/archive"
	"github.com/nimbstor/nimbstor/lib/blockcodec"
	"github.com/nimbstor/nimbstor/lib/compression"
	"github.com/nimbstor/nimbstor/lib/dedup"
	"github.com/nimbstor/nimbstor/lib/pipeline"
)

// WriterOptions describes a new archive.
type WriterOptions struct {
	Description string
	Keywords    []string
	Parent      string
	Metainfo    any

	// Compression overrides the session default when set.
	Compression *compression.Spec

	// CommitEmpty commits the archive even when every block was
	// deduplicated. Without it such an archive leaves no record.
	CommitEmpty bool
}

// WriterStats reports what a Writer has done so far.
type WriterStats struct {
	dedup.Stats

	// Size is the number of bytes written.
	Size int64

	// Usage is the number of encoded bytes stored for new blocks.
	Usage int64
}

type encodedBlock struct {
	id     archive.BlockID
	stored []byte
}

// Writer accumulates one archive. It implements io.Writer and
// io.ReaderFrom.
type Writer struct {
	ctx     context.Context
	session *Session
	codec   *blockcodec.Codec
	spec    compression.Spec
	engine  *dedup.Engine
	encoder *pipeline.Ordered[encodedBlock]
	options WriterOptions

	// unstored holds literals this writer added to the session index
	// that have not reached the backend yet. An abandoned writer
	// removes them so later archives cannot reference them.
	unstored map[archive.BlockID]struct{}

	usage  int64
	err    error
	closed bool
	id     string
}

func newWriter(ctx context.Context, session *Session, options WriterOptions) (*Writer, error) {
	spec := session.compression
	if options.Compression != nil {
		spec = *options.Compression
	}
	codec, err := session.codec(spec)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		ctx:      ctx,
		session:  session,
		codec:    codec,
		spec:     spec,
		options:  options,
		unstored: make(map[archive.BlockID]struct{}),
	}
	w.options.Keywords = slices.Clone(options.Keywords)

	workers := session.workers
	if workers < 2 {
		workers = 0
	}
	w.encoder = pipeline.New(workers, w.store)

	w.engine, err = dedup.NewEngine(dedup.EngineOptions{
		BlockSize: session.blockSize,
		Index:     session.index,
		Checksum:  codec.Checksum,
		Sink:      (*writerSink)(w),
		Logger:    session.logger,
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// store writes an encoded block. The pipeline calls it in block order
// on the writing goroutine.
func (w *Writer) store(block encodedBlock) error {
	if err := w.session.backend.WriteBuffer(w.ctx, block.stored, block.id); err != nil {
		return fmt.Errorf("storing block %s: %w", block.id, err)
	}
	delete(w.unstored, block.id)
	w.usage += int64(len(block.stored))
	return nil
}

// abandon stops the encoder and withdraws every literal that was
// never stored.
func (w *Writer) abandon() {
	w.encoder.Close()
	for id := range w.unstored {
		w.session.index.Forget(id)
	}
	if len(w.unstored) > 0 {
		w.session.logger.Debug("withdrew unstored blocks", "count", len(w.unstored))
	}
	clear(w.unstored)
}

// writerSink adapts Writer to dedup.Sink without exporting the sink
// methods.
type writerSink Writer

func (s *writerSink) Literal(id archive.BlockID, data []byte) error {
	// An identity the repository already holds stays indexed even if
	// this writer is abandoned.
	if !s.session.index.Contains(id) {
		s.unstored[id] = struct{}{}
	}
	codec := s.codec
	return s.encoder.Submit(func() (encodedBlock, error) {
		stored, _, err := codec.Encode(data, id.Role())
		if err != nil {
			return encodedBlock{}, &archive.BlockError{ID: id, Err: err}
		}
		return encodedBlock{id: id, stored: stored}, nil
	})
}

func (s *writerSink) Matched(id archive.BlockID, data []byte) error {
	if !s.session.verify {
		return nil
	}
	// The match may refer to a block of this archive still being
	// encoded.
	if err := s.encoder.Drain(); err != nil {
		return err
	}
	stored, err := s.session.backend.ReadBuffer(s.ctx, id)
	if err != nil {
		return fmt.Errorf("verifying match: %w", err)
	}
	existing, err := s.session.decoder.Decode(stored, id.Role(), int64(len(data)), id.Checksum2)
	if err != nil {
		return &archive.BlockError{ID: id, Err: err}
	}
	if !bytes.Equal(existing, data) {
		return &archive.BlockError{ID: id, Err: archive.ErrCollision}
	}
	return nil
}

// Write buffers p for deduplication. Errors are sticky: after the
// first failure the writer only accepts Close.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrWriterClosed
	}
	if w.err != nil {
		return 0, w.err
	}
	if err := w.session.checkOpen(); err != nil {
		return 0, err
	}
	if err := w.engine.Write(p); err != nil {
		w.err = err
		return 0, err
	}
	return len(p), nil
}

// ReadFrom writes everything read from r.
func (w *Writer) ReadFrom(r io.Reader) (int64, error) {
	buffer := make([]byte, w.session.blockSize)
	var total int64
	for {
		n, err := r.Read(buffer)
		if n > 0 {
			if _, werr := w.Write(buffer[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// SetMetainfo replaces the archive's opaque metainfo.
func (w *Writer) SetMetainfo(value any) { w.options.Metainfo = value }

// SetParent records the archive this one derives from.
func (w *Writer) SetParent(id string) { w.options.Parent = id }

// Stats returns counters for the data written so far. Usage only
// covers blocks that have reached the backend.
func (w *Writer) Stats() WriterStats {
	return WriterStats{Stats: w.engine.Stats(), Size: w.engine.Size(), Usage: w.usage}
}

// ID returns the archive id after a committing Close, or "".
func (w *Writer) ID() string { return w.id }

// Close flushes buffered data and, unless dontCommit is set, writes the
// archive record. It returns the archive id, which is empty when
// nothing was committed. Calling Close again returns the same id.
func (w *Writer) Close(dontCommit bool) (string, error) {
	if w.closed {
		return w.id, nil
	}
	w.closed = true
	defer w.session.releaseWriter(w)

	if dontCommit || w.err != nil {
		w.abandon()
		if dontCommit {
			w.session.logger.Debug("archive abandoned", "size", w.engine.Size())
		}
		return "", w.err
	}
	if err := w.session.checkOpen(); err != nil {
		w.abandon()
		return "", err
	}

	if err := w.engine.Finish(); err != nil {
		w.abandon()
		return "", w.fail(err)
	}
	if err := w.encoder.Drain(); err != nil {
		w.abandon()
		return "", w.fail(err)
	}
	w.encoder.Close()

	stats := w.engine.Stats()
	if stats.Literals == 0 && !w.options.CommitEmpty {
		w.session.logger.Info("archive not committed: no new blocks",
			"size", w.engine.Size(), "reused", stats.Reused+stats.ReusedParts)
		return "", nil
	}

	record := &archive.Archive{
		Version:     archive.RecordVersion,
		Description: w.options.Description,
		Keywords:    w.options.Keywords,
		Parent:      w.options.Parent,
		Compression: w.spec.String(),
		Timestamp:   w.session.clock.Now().UnixNano(),
		Size:        w.engine.Size(),
		Usage:       w.usage,
		BlockSize:   w.session.blockSize,
		Metainfo:    w.options.Metainfo,
		Blocks:      w.engine.Blocks(),
	}
	encoded, err := archive.MarshalRecord(record)
	if err != nil {
		return "", w.fail(err)
	}
	id := w.codec.Checksum(encoded)
	stored, _, err := w.codec.Encode(encoded, archive.MetadataRole{})
	if err != nil {
		return "", w.fail(fmt.Errorf("encoding archive record: %w", err))
	}
	metadataID := archive.MetadataID(id)
	if err := w.session.backend.WriteBuffer(w.ctx, stored, metadataID); err != nil {
		return "", w.fail(fmt.Errorf("storing archive record: %w", err))
	}
	w.session.index.AddArchive(id)
	w.id = id

	w.session.logger.Info("archive committed",
		"id", id,
		"size", record.Size,
		"usage", record.Usage,
		"blocks", len(record.Blocks),
		"literal", stats.Literals,
		"reused", stats.Reused,
		"reused_parts", stats.ReusedParts,
	)
	return id, nil
}

func (w *Writer) fail(err error) error {
	w.err = err
	return err
}
