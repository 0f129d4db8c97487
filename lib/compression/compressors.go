// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

type noneCompressor struct{}

func (noneCompressor) Codec() Codec { return None }

func (noneCompressor) Compress(data []byte) ([]byte, error) { return data, nil }

func (noneCompressor) Decompress(compressed []byte, _ int) ([]byte, error) { return compressed, nil }

// streamCompressor adapts the io.Writer/io.Reader style codecs (zlib,
// deflate, gzip).
type streamCompressor struct {
	codec     Codec
	level     int
	newWriter func(w io.Writer, level int) (io.WriteCloser, error)
	newReader func(r io.Reader) (io.ReadCloser, error)
}

func (c *streamCompressor) Codec() Codec { return c.codec }

func (c *streamCompressor) Compress(data []byte) ([]byte, error) {
	var buffer bytes.Buffer
	buffer.Grow(len(data) / 2)
	writer, err := c.newWriter(&buffer, c.level)
	if err != nil {
		return nil, fmt.Errorf("%s writer: %w", c.codec, err)
	}
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("%s compress: %w", c.codec, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("%s compress: %w", c.codec, err)
	}
	if buffer.Len() >= len(data) {
		return nil, ErrIncompressible
	}
	return buffer.Bytes(), nil
}

// Decompress returns at most size bytes. A stream that ends early
// returns what it produced; the caller's checksum catches the damage.
func (c *streamCompressor) Decompress(compressed []byte, size int) ([]byte, error) {
	reader, err := c.newReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%s reader: %w", c.codec, err)
	}
	defer reader.Close()

	output := make([]byte, size)
	read, err := io.ReadFull(reader, output)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s decompress: %w", c.codec, err)
	}
	return output[:read], nil
}

func newZlib(level int) (Compressor, error) {
	if level == 0 {
		level = zlib.DefaultCompression
	}
	return &streamCompressor{
		codec: Zlib,
		level: level,
		newWriter: func(w io.Writer, level int) (io.WriteCloser, error) {
			return zlib.NewWriterLevel(w, level)
		},
		newReader: zlib.NewReader,
	}, nil
}

func newDeflate(level int) (Compressor, error) {
	if level == 0 {
		level = flate.DefaultCompression
	}
	return &streamCompressor{
		codec: Deflate,
		level: level,
		newWriter: func(w io.Writer, level int) (io.WriteCloser, error) {
			return flate.NewWriter(w, level)
		},
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			return flate.NewReader(r), nil
		},
	}, nil
}

func newGzip(level int) (Compressor, error) {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	return &streamCompressor{
		codec: Gzip,
		level: level,
		newWriter: func(w io.Writer, level int) (io.WriteCloser, error) {
			return gzip.NewWriterLevel(w, level)
		},
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			reader, err := gzip.NewReader(r)
			if err != nil {
				return nil, err
			}
			reader.Multistream(false)
			return reader, nil
		},
	}, nil
}

// zstdDecoder is shared by every zstd compressor. zstd.Decoder is safe
// for concurrent DecodeAll calls.
var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compression: zstd decoder initialization failed: " + err.Error())
	}
}

type zstdCompressor struct {
	encoder *zstd.Encoder
}

func newZstd(level int) (Compressor, error) {
	if level == 0 {
		level = 3
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	return &zstdCompressor{encoder: encoder}, nil
}

func (*zstdCompressor) Codec() Codec { return Zstd }

func (c *zstdCompressor) Compress(data []byte) ([]byte, error) {
	compressed := c.encoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, ErrIncompressible
	}
	return compressed, nil
}

func (*zstdCompressor) Decompress(compressed []byte, size int) ([]byte, error) {
	output, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return output, nil
}

type lz4Compressor struct{}

func (lz4Compressor) Codec() Codec { return LZ4 }

func (lz4Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrIncompressible
	}
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock reports incompressible input by writing nothing.
	if written == 0 || written >= len(data) {
		return nil, ErrIncompressible
	}
	return destination[:written], nil
}

func (lz4Compressor) Decompress(compressed []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return destination[:read], nil
}

type s2Compressor struct {
	encode func(dst, src []byte) []byte
}

func newS2(level int) (Compressor, error) {
	switch level {
	case 0, 1:
		return &s2Compressor{encode: s2.Encode}, nil
	case 2:
		return &s2Compressor{encode: s2.EncodeBetter}, nil
	default:
		return &s2Compressor{encode: s2.EncodeBest}, nil
	}
}

func (*s2Compressor) Codec() Codec { return S2 }

func (c *s2Compressor) Compress(data []byte) ([]byte, error) {
	compressed := c.encode(nil, data)
	if len(compressed) >= len(data) {
		return nil, ErrIncompressible
	}
	return compressed, nil
}

func (*s2Compressor) Decompress(compressed []byte, size int) ([]byte, error) {
	output, err := s2.Decode(make([]byte, size), compressed)
	if err != nil {
		return nil, fmt.Errorf("s2 decompress: %w", err)
	}
	return output, nil
}

type snappyCompressor struct{}

func (snappyCompressor) Codec() Codec { return Snappy }

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	compressed := snappy.Encode(nil, data)
	if len(compressed) >= len(data) {
		return nil, ErrIncompressible
	}
	return compressed, nil
}

func (snappyCompressor) Decompress(compressed []byte, size int) ([]byte, error) {
	output, err := snappy.Decode(make([]byte, size), compressed)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress: %w", err)
	}
	return output, nil
}
