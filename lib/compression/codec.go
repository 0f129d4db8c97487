// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nimbstor/nimbstor/lib/archive"
)

// Codec identifies a compression algorithm. Values are stored in block
// frames; changing them breaks every existing repository.
type Codec uint8

const (
	None    Codec = 0
	Zlib    Codec = 1
	Deflate Codec = 2
	Gzip    Codec = 3
	Zstd    Codec = 4
	LZ4     Codec = 5
	S2      Codec = 6
	Snappy  Codec = 7
)

var codecNames = map[Codec]string{
	None:    "none",
	Zlib:    "zlib",
	Deflate: "deflate",
	Gzip:    "gzip",
	Zstd:    "zstd",
	LZ4:     "lz4",
	S2:      "s2",
	Snappy:  "snappy",
}

func (c Codec) String() string {
	if name, ok := codecNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", c)
}

// Known reports whether c is one of the defined codec tags, registered
// or not.
func (c Codec) Known() bool {
	_, ok := codecNames[c]
	return ok
}

// ParseCodec parses a codec name as produced by [Codec.String].
func ParseCodec(name string) (Codec, error) {
	for codec, codecName := range codecNames {
		if codecName == name {
			return codec, nil
		}
	}
	return 0, &archive.CodecError{Kind: "compression", Name: name}
}

// levelRange is the inclusive range of explicit levels per codec.
// Level 0 always means the codec's default.
var levelRange = map[Codec][2]int{
	None:    {0, 0},
	Zlib:    {1, 9},
	Deflate: {1, 9},
	Gzip:    {1, 9},
	Zstd:    {1, 22},
	LZ4:     {0, 0},
	S2:      {1, 3},
	Snappy:  {0, 0},
}

// Spec is a codec plus level. The zero Spec is no compression.
type Spec struct {
	Codec Codec
	Level int
}

// Metadata is the fixed spec for archive metadata records, so a
// record is readable before the archive's own spec is known.
var Metadata = Spec{Codec: Zlib}

// String renders "name" for the default level and "name:level"
// otherwise. [ParseSpec] accepts both.
func (s Spec) String() string {
	if s.Level == 0 {
		return s.Codec.String()
	}
	return s.Codec.String() + ":" + strconv.Itoa(s.Level)
}

// ParseSpec parses "name" or "name:level". An empty string is [None].
func ParseSpec(text string) (Spec, error) {
	if text == "" {
		return Spec{}, nil
	}
	name, levelText, hasLevel := strings.Cut(text, ":")
	codec, err := ParseCodec(name)
	if err != nil {
		return Spec{}, err
	}
	spec := Spec{Codec: codec}
	if hasLevel {
		spec.Level, err = strconv.Atoi(levelText)
		if err != nil {
			return Spec{}, fmt.Errorf("compression %q: invalid level: %w", text, err)
		}
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// Validate checks that the level is 0 or within the codec's range.
func (s Spec) Validate() error {
	bounds, ok := levelRange[s.Codec]
	if !ok {
		return &archive.CodecError{Kind: "compression", Name: s.Codec.String()}
	}
	if s.Level != 0 && (s.Level < bounds[0] || s.Level > bounds[1]) {
		if bounds[1] == 0 {
			return fmt.Errorf("compression %s does not take a level", s.Codec)
		}
		return fmt.Errorf("compression %s: level %d outside %d..%d", s.Codec, s.Level, bounds[0], bounds[1])
	}
	return nil
}

// Compressor compresses and decompresses whole blocks. Implementations
// are safe for concurrent use.
type Compressor interface {
	Codec() Codec

	// Compress returns the compressed form of data, or
	// ErrIncompressible.
	Compress(data []byte) ([]byte, error)

	// Decompress reverses Compress. size is the expected plaintext
	// length; codecs that need an output size use it, others treat it
	// as a capacity hint.
	Decompress(compressed []byte, size int) ([]byte, error)
}

// ErrIncompressible is returned by Compress when the output would not
// be smaller than the input.
var ErrIncompressible = errors.New("data is incompressible")
