// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"fmt"
	"slices"

	"github.com/nimbstor/nimbstor/lib/archive"
)

// Factory builds a compressor for a validated level. Level 0 selects
// the codec's default.
type Factory func(level int) (Compressor, error)

// Registry maps codecs to factories. It is not safe for concurrent
// Register calls; build it before starting streams.
type Registry struct {
	factories map[Codec]Factory
}

// NewRegistry returns a registry holding every built-in codec.
func NewRegistry() *Registry {
	return &Registry{factories: map[Codec]Factory{
		None:    func(int) (Compressor, error) { return noneCompressor{}, nil },
		Zlib:    newZlib,
		Deflate: newDeflate,
		Gzip:    newGzip,
		Zstd:    newZstd,
		LZ4:     func(int) (Compressor, error) { return lz4Compressor{}, nil },
		S2:      newS2,
		Snappy:  func(int) (Compressor, error) { return snappyCompressor{}, nil },
	}}
}

// Register adds or replaces the factory for codec.
func (r *Registry) Register(codec Codec, factory Factory) {
	r.factories[codec] = factory
}

// Unregister removes codec. Resolving it afterwards fails with
// [archive.ErrUnsupportedCodec].
func (r *Registry) Unregister(codec Codec) {
	delete(r.factories, codec)
}

// Resolve builds the compressor for spec.
func (r *Registry) Resolve(spec Spec) (Compressor, error) {
	factory, ok := r.factories[spec.Codec]
	if !ok {
		return nil, &archive.CodecError{Kind: "compression", Name: spec.Codec.String()}
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	compressor, err := factory(spec.Level)
	if err != nil {
		return nil, fmt.Errorf("compression %s: %w", spec, err)
	}
	return compressor, nil
}

// Codecs lists the registered codecs in tag order.
func (r *Registry) Codecs() []Codec {
	codecs := make([]Codec, 0, len(r.factories))
	for codec := range r.factories {
		codecs = append(codecs, codec)
	}
	slices.Sort(codecs)
	return codecs
}
