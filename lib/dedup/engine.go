// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/nimbstor/nimbstor/lib/archive"
	"github.com/nimbstor/nimbstor/lib/checksum"
)

// Block size limits. The window must be large enough that a weak
// checksum hit is rare and small enough that two windows of lookahead
// fit comfortably in memory.
const (
	MinBlockSize     = 4 << 10
	MaxBlockSize     = 64 << 20
	DefaultBlockSize = 4 << 20
)

// Sink receives the engine's decisions in block order.
type Sink interface {
	// Literal is called for a span that must be stored. data is owned
	// by the sink.
	Literal(id archive.BlockID, data []byte) error

	// Matched is called before a reference to an existing block is
	// recorded. data is only valid for the duration of the call.
	Matched(id archive.BlockID, data []byte) error
}

// Stats counts the engine's decisions.
type Stats struct {
	// Literals is the number of blocks handed to Sink.Literal.
	Literals int

	// Reused is the number of rolling block references.
	Reused int

	// ReusedParts is the number of whole-block part references.
	ReusedParts int
}

// EngineOptions configures an [Engine].
type EngineOptions struct {
	// BlockSize is the window size. Zero means DefaultBlockSize.
	BlockSize int

	// Index is consulted and extended. Required.
	Index *Index

	// Checksum computes the strong checksum of a span. Required.
	Checksum func([]byte) string

	// Sink receives decisions. Required.
	Sink Sink

	// Logger receives per-decision debug records. Nil discards them.
	Logger *slog.Logger
}

// Engine splits a byte stream into literal and reused blocks. It is
// not safe for concurrent use.
type Engine struct {
	blockSize int
	index     *Index
	checksum  func([]byte) string
	sink      Sink
	logger    *slog.Logger

	// pending holds buffered stream bytes; the unconsumed region
	// starts at head.
	pending []byte
	head    int

	blocks []archive.Block
	size   int64
	stats  Stats
	err    error
}

// ValidateBlockSize reports whether size is a usable window size.
func ValidateBlockSize(size int) error {
	if size < MinBlockSize || size > MaxBlockSize {
		return fmt.Errorf("block size %d is outside [%d, %d]", size, MinBlockSize, MaxBlockSize)
	}
	return nil
}

// NewEngine validates options and returns an engine with nothing
// buffered.
func NewEngine(options EngineOptions) (*Engine, error) {
	if options.BlockSize == 0 {
		options.BlockSize = DefaultBlockSize
	}
	// Configuration enforces MinBlockSize; the engine accepts any
	// positive window.
	if options.BlockSize < 1 || options.BlockSize > MaxBlockSize {
		return nil, fmt.Errorf("dedup: block size %d is out of range", options.BlockSize)
	}
	if options.Index == nil || options.Checksum == nil || options.Sink == nil {
		return nil, errors.New("dedup: index, checksum and sink are required")
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		blockSize: options.BlockSize,
		index:     options.Index,
		checksum:  options.Checksum,
		sink:      options.Sink,
		logger:    logger,
	}, nil
}

// Write buffers data and flushes every span that can be decided with a
// full window of lookahead. An error leaves the engine unusable.
func (e *Engine) Write(data []byte) error {
	if e.err != nil {
		return e.err
	}
	if e.head > 0 && e.head >= len(e.pending)/2 {
		remaining := copy(e.pending, e.pending[e.head:])
		e.pending = e.pending[:remaining]
		e.head = 0
	}
	e.pending = append(e.pending, data...)
	e.size += int64(len(data))
	e.err = e.process(false)
	return e.err
}

// Finish flushes everything still buffered. The tail shorter than one
// block becomes the final literal.
func (e *Engine) Finish() error {
	if e.err != nil {
		return e.err
	}
	e.err = e.process(true)
	return e.err
}

// Blocks returns the archive's block list so far. The slice is owned
// by the engine.
func (e *Engine) Blocks() []archive.Block { return e.blocks }

// Size returns the number of bytes written.
func (e *Engine) Size() int64 { return e.size }

// Buffered returns the number of bytes not yet decided.
func (e *Engine) Buffered() int { return len(e.pending) - e.head }

// Stats returns the decisions made so far.
func (e *Engine) Stats() Stats { return e.stats }

func (e *Engine) process(final bool) error {
	size := e.blockSize
	for {
		buffer := e.pending[e.head:]
		available := len(buffer)
		if available == 0 || (!final && available < 2*size) {
			return nil
		}
		if available < size {
			if err := e.flushLiteral(buffer, checksum.Part); err != nil {
				return err
			}
			e.head += available
			continue
		}

		rolling := checksum.NewRolling(buffer[:size])
		firstWeak := rolling.Sum32()
		limit := min(size, available-size)
		matched := false
		for offset := 0; ; offset++ {
			weak := rolling.Sum32()
			if e.index.HasWeak(weak) {
				window := buffer[offset : offset+size]
				strong := e.checksum(window)
				if number, ok := e.index.LookupBlock(weak, strong); ok {
					if offset > 0 {
						prefixWeak := checksum.Part
						if offset == size {
							prefixWeak = firstWeak
						}
						if err := e.flushLiteral(buffer[:offset], prefixWeak); err != nil {
							return err
						}
					}
					id := archive.BlockID{Number: number, Checksum1: weak, Checksum2: strong}
					if err := e.reuse(id, window); err != nil {
						return err
					}
					e.stats.Reused++
					e.head += offset + size
					matched = true
					break
				}
			}
			if offset == limit {
				break
			}
			rolling.Roll(buffer[offset], buffer[offset+size])
		}
		if !matched {
			if err := e.flushLiteral(buffer[:size], firstWeak); err != nil {
				return err
			}
			e.head += size
		}
	}
}

// flushLiteral stores data as the next block, unless an identical
// block is already known. weak is the window checksum for block-sized
// spans and checksum.Part otherwise.
func (e *Engine) flushLiteral(data []byte, weak uint32) error {
	strong := e.checksum(data)
	if weak != checksum.Part {
		if number, ok := e.index.LookupBlock(weak, strong); ok {
			e.stats.Reused++
			return e.reuse(archive.BlockID{Number: number, Checksum1: weak, Checksum2: strong}, data)
		}
	} else if number, ok := e.index.LookupPart(strong); ok {
		e.stats.ReusedParts++
		return e.reuse(archive.BlockID{Number: number, Checksum1: checksum.Part, Checksum2: strong}, data)
	}

	id := archive.BlockID{
		Number:    uint64(len(e.blocks) + 1),
		Checksum1: weak,
		Checksum2: strong,
	}
	owned := make([]byte, len(data))
	copy(owned, data)
	if err := e.sink.Literal(id, owned); err != nil {
		return err
	}

	// Registered only once the sink has taken the block, so a refused
	// literal never becomes a match target.
	e.index.AddLiteral(id)
	e.blocks = append(e.blocks, archive.Block{
		Number:    id.Number,
		Checksum1: id.Checksum1,
		Checksum2: id.Checksum2,
		Length:    int64(len(data)),
	})
	e.stats.Literals++
	e.logger.Debug("literal block", "block", id.String(), "length", len(data))
	return nil
}

func (e *Engine) reuse(id archive.BlockID, data []byte) error {
	if err := e.sink.Matched(id, data); err != nil {
		return err
	}
	e.blocks = append(e.blocks, archive.Block{
		Number:    id.Number,
		Checksum1: id.Checksum1,
		Checksum2: id.Checksum2,
		Length:    int64(len(data)),
	})
	e.logger.Debug("reused block", "block", id.String(), "position", len(e.blocks), "length", len(data))
	return nil
}
