// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nimbstor/nimbstor/lib/archive"
	"github.com/nimbstor/nimbstor/lib/backend"
	"github.com/nimbstor/nimbstor/lib/blockcodec"
	"github.com/nimbstor/nimbstor/lib/cipher"
	"github.com/nimbstor/nimbstor/lib/clock"
	"github.com/nimbstor/nimbstor/lib/compression"
	"github.com/nimbstor/nimbstor/lib/dedup"
)

var (
	// ErrWriterActive is returned by Create while another Writer of
	// the session is open.
	ErrWriterActive = errors.New("an archive writer is already active")

	// ErrSessionClosed is returned by operations on a closed session
	// and by Writers and Readers that outlive it.
	ErrSessionClosed = errors.New("session is closed")

	// ErrWriterClosed is returned by Write after Close.
	ErrWriterClosed = errors.New("archive writer is closed")
)

// SessionOptions configures a [Session].
type SessionOptions struct {
	// Password keys the cipher and the strong checksum. Empty means
	// no encryption and unkeyed checksums.
	Password []byte

	// Cipher names the block cipher. Empty means "none". Any other
	// cipher requires a password.
	Cipher string

	// Compression is the default compression for new archives.
	Compression compression.Spec

	// BlockSize is the dedup window. Zero means dedup.DefaultBlockSize.
	BlockSize int

	// Workers is the encode/decode pool size. Values below 2 run every
	// block on the calling goroutine.
	Workers int

	// VerifyMatches reads back and compares every deduplicated block
	// before referencing it.
	VerifyMatches bool

	// Compressions and Ciphers override the built-in registries.
	Compressions *compression.Registry
	Ciphers      *cipher.Registry

	// Checksum replaces the strong checksum function. Nil means
	// checksum.Strong.
	Checksum func(data, secret []byte) string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Session is an open repository. Its methods are safe for concurrent
// use, but a Writer or Reader is used by one goroutine at a time.
type Session struct {
	backend backend.Backend
	index   *dedup.Index
	keys    *cipher.Keys
	cipher  cipher.Cipher
	secret  []byte
	strong  func(data, secret []byte) string

	compressions *compression.Registry
	compression  compression.Spec
	blockSize    int
	workers      int
	verify       bool
	clock        clock.Clock
	logger       *slog.Logger

	// decoder decodes blocks of any archive. Its data compression is
	// never used for encoding.
	decoder *blockcodec.Codec

	mu     sync.Mutex
	writer *Writer
	closed bool
}

// Open opens store and seeds the dedup index from the blocks it
// reports. The session owns store from then on.
func Open(ctx context.Context, store backend.Backend, options SessionOptions) (*Session, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	compressions := options.Compressions
	if compressions == nil {
		compressions = compression.NewRegistry()
	}
	ciphers := options.Ciphers
	if ciphers == nil {
		ciphers = cipher.NewRegistry()
	}
	if err := ciphers.Check(options.Cipher); err != nil {
		return nil, err
	}
	if _, err := compressions.Resolve(options.Compression); err != nil {
		return nil, err
	}
	blockSize := options.BlockSize
	if blockSize == 0 {
		blockSize = dedup.DefaultBlockSize
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}

	session := &Session{
		backend:      store,
		index:        dedup.NewIndex(),
		compressions: compressions,
		compression:  options.Compression,
		blockSize:    blockSize,
		workers:      options.Workers,
		verify:       options.VerifyMatches,
		strong:       options.Checksum,
		clock:        clk,
		logger:       logger,
	}

	if len(options.Password) > 0 {
		keys, err := cipher.DeriveKeys(options.Password)
		if err != nil {
			return nil, fmt.Errorf("deriving repository keys: %w", err)
		}
		session.keys = keys
		session.secret = keys.ChecksumSecret()
	}
	cleanup := func() {
		if session.keys != nil {
			session.keys.Close()
		}
	}

	blockCipher, err := ciphers.Resolve(options.Cipher, session.keys)
	if err != nil {
		cleanup()
		return nil, err
	}
	session.cipher = blockCipher

	session.decoder, err = session.codec(compression.Spec{Codec: compression.None})
	if err != nil {
		cleanup()
		return nil, err
	}

	if err := store.Open(ctx, session.index); err != nil {
		cleanup()
		return nil, fmt.Errorf("opening backend: %w", err)
	}
	logger.Info("repository opened",
		"blocks", session.index.Len(),
		"archives", len(session.index.Archives()),
		"cipher", cipherName(blockCipher),
	)
	return session, nil
}

func cipherName(c cipher.Cipher) string {
	if c == nil {
		return cipher.None
	}
	return c.Name()
}

func (s *Session) codec(spec compression.Spec) (*blockcodec.Codec, error) {
	return blockcodec.New(blockcodec.Options{
		Registry:    s.compressions,
		Compression: spec,
		Cipher:      s.cipher,
		Secret:      s.secret,
		Checksum:    s.strong,
	})
}

// Index returns the session's dedup index.
func (s *Session) Index() *dedup.Index { return s.index }

// BlockSize returns the session's default dedup window.
func (s *Session) BlockSize() int { return s.blockSize }

// Logger returns the session's logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

// LoadRecord reads and decodes the metadata record of archive id.
func (s *Session) LoadRecord(ctx context.Context, id string) (*archive.Archive, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if !s.index.HasArchive(id) {
		return nil, fmt.Errorf("archive %s: %w", id, archive.ErrArchiveNotFound)
	}
	metadataID := archive.MetadataID(id)
	stored, err := s.backend.ReadBuffer(ctx, metadataID)
	if err != nil {
		return nil, fmt.Errorf("reading archive %s: %w", id, err)
	}
	plaintext, err := s.decoder.Decode(stored, archive.MetadataRole{}, -1, id)
	if err != nil {
		return nil, &archive.BlockError{ID: metadataID, Err: err}
	}
	record, err := archive.UnmarshalRecord(plaintext)
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", id, err)
	}
	record.ID = id
	return record, nil
}

// ReadBlock reads and decodes one block of an archive.
func (s *Session) ReadBlock(ctx context.Context, block archive.Block) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	stored, err := s.backend.ReadBuffer(ctx, block.ID())
	if err != nil {
		return nil, err
	}
	return s.decodeBlock(stored, block)
}

func (s *Session) decodeBlock(stored []byte, block archive.Block) ([]byte, error) {
	plaintext, err := s.decoder.Decode(stored, block.ID().Role(), block.Length, block.Checksum2)
	if err != nil {
		return nil, &archive.BlockError{ID: block.ID(), Err: err}
	}
	return plaintext, nil
}

// Create starts a new archive.
func (s *Session) Create(ctx context.Context, options WriterOptions) (*Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.writer != nil {
		return nil, ErrWriterActive
	}
	writer, err := newWriter(ctx, s, options)
	if err != nil {
		return nil, err
	}
	s.writer = writer
	return writer, nil
}

func (s *Session) releaseWriter(w *Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == w {
		s.writer = nil
	}
}

// OpenArchive returns a Reader over archive id.
func (s *Session) OpenArchive(ctx context.Context, id string) (*Reader, error) {
	record, err := s.LoadRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return newReader(ctx, s, record)
}

// Close ends the session. An active writer is closed without
// committing. With dontCommit every block written during the session
// is discarded by the backend. Close is idempotent.
func (s *Session) Close(dontCommit bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	writer := s.writer
	s.mu.Unlock()

	var errs []error
	if writer != nil {
		if _, err := writer.Close(true); err != nil {
			errs = append(errs, fmt.Errorf("abandoning active writer: %w", err))
		}
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if err := s.backend.Close(dontCommit); err != nil {
		errs = append(errs, fmt.Errorf("closing backend: %w", err))
	}
	if s.keys != nil {
		if err := s.keys.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info("repository closed", "committed", !dontCommit)
	return errors.Join(errs...)
}
