// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package blockcodec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nimbstor/nimbstor/lib/archive"
	"github.com/nimbstor/nimbstor/lib/checksum"
	"github.com/nimbstor/nimbstor/lib/cipher"
	"github.com/nimbstor/nimbstor/lib/compression"
)

// MaxMetadataLength bounds the plaintext of a metadata record, whose
// length is only known from its own frame.
const MaxMetadataLength = 64 << 20

// Options configures a [Codec].
type Options struct {
	// Registry resolves compression codecs. Required.
	Registry *compression.Registry

	// Compression is used for data blocks.
	Compression compression.Spec

	// Cipher encrypts frames. Nil stores them in the clear.
	Cipher cipher.Cipher

	// Secret keys the strong checksum. Nil means unkeyed.
	Secret []byte

	// Checksum computes strong checksums. Nil means checksum.Strong.
	Checksum func(data, secret []byte) string
}

// Codec encodes and decodes blocks for one session. It is safe for
// concurrent use by worker goroutines.
type Codec struct {
	data     compression.Compressor
	metadata compression.Compressor
	cipher   cipher.Cipher
	secret   []byte
	checksum func(data, secret []byte) string

	// decompressors holds one compressor per registered codec, keyed
	// by the frame tag.
	decompressors map[compression.Codec]compression.Compressor
}

// New resolves every compressor the codec can need.
func New(options Options) (*Codec, error) {
	if options.Registry == nil {
		return nil, errors.New("blockcodec: compression registry is required")
	}
	data, err := options.Registry.Resolve(options.Compression)
	if err != nil {
		return nil, err
	}
	metadata, err := options.Registry.Resolve(compression.Metadata)
	if err != nil {
		return nil, fmt.Errorf("metadata codec: %w", err)
	}
	decompressors := make(map[compression.Codec]compression.Compressor)
	for _, codec := range options.Registry.Codecs() {
		decompressor, err := options.Registry.Resolve(compression.Spec{Codec: codec})
		if err != nil {
			return nil, err
		}
		decompressors[codec] = decompressor
	}
	if _, ok := decompressors[compression.None]; !ok {
		return nil, errors.New("blockcodec: registry lacks the none codec")
	}
	strong := options.Checksum
	if strong == nil {
		strong = checksum.Strong
	}
	return &Codec{
		checksum:      strong,
		data:          data,
		metadata:      metadata,
		cipher:        options.Cipher,
		secret:        options.Secret,
		decompressors: decompressors,
	}, nil
}

// Checksum returns the strong checksum of plaintext under the
// session's secret.
func (c *Codec) Checksum(plaintext []byte) string {
	return c.checksum(plaintext, c.secret)
}

// Encrypted reports whether a cipher is configured.
func (c *Codec) Encrypted() bool {
	return c.cipher != nil
}

// Encode returns the stored form of plaintext and its declared length.
func (c *Codec) Encode(plaintext []byte, role archive.BlockRole) ([]byte, int64, error) {
	compressor := c.data
	if _, ok := role.(archive.MetadataRole); ok {
		compressor = c.metadata
	}

	tag := compressor.Codec()
	compressed, err := compressor.Compress(plaintext)
	if errors.Is(err, compression.ErrIncompressible) {
		tag, compressed = compression.None, plaintext
	} else if err != nil {
		return nil, 0, err
	}

	frame := make([]byte, 0, 1+2*binary.MaxVarintLen64+len(compressed)+cipher.BlockAlign)
	frame = append(frame, byte(tag))
	frame = binary.AppendUvarint(frame, uint64(len(plaintext)))
	frame = binary.AppendUvarint(frame, uint64(len(compressed)))
	frame = append(frame, compressed...)

	if c.cipher == nil {
		return frame, int64(len(plaintext)), nil
	}
	if remainder := len(frame) % cipher.BlockAlign; remainder != 0 {
		frame = append(frame, make([]byte, cipher.BlockAlign-remainder)...)
	}
	sealed, err := c.cipher.Seal(frame)
	if err != nil {
		return nil, 0, fmt.Errorf("encrypting block: %w", err)
	}
	return sealed, int64(len(plaintext)), nil
}

// Decode reverses Encode and verifies the result against
// expectedChecksum2. A negative declaredLength means the length is
// unknown, which is only valid for metadata.
func (c *Codec) Decode(stored []byte, role archive.BlockRole, declaredLength int64, expectedChecksum2 string) ([]byte, error) {
	frame := stored
	if c.cipher != nil {
		opened, err := c.cipher.Open(stored)
		if err != nil {
			return nil, err
		}
		frame = opened
	}

	tag, plaintextLength, body, err := parseFrame(frame)
	if err != nil {
		return nil, err
	}

	size := declaredLength
	if size < 0 {
		if _, ok := role.(archive.MetadataRole); !ok {
			return nil, errors.New("blockcodec: data block decoded without a declared length")
		}
		if plaintextLength > MaxMetadataLength {
			return nil, integrity("metadata length %d exceeds %d", plaintextLength, MaxMetadataLength)
		}
		size = int64(plaintextLength)
	}

	decompressor, ok := c.decompressors[tag]
	if !ok {
		if tag.Known() {
			return nil, &archive.CodecError{Kind: "compression", Name: tag.String()}
		}
		return nil, integrity("frame codec tag %d", uint8(tag))
	}
	plaintext, err := decompressor.Decompress(body, int(size))
	if err != nil {
		return nil, integrity("%v", err)
	}
	if int64(len(plaintext)) > size {
		plaintext = plaintext[:size]
	}

	if c.Checksum(plaintext) != expectedChecksum2 {
		return nil, integrity("checksum mismatch")
	}
	return plaintext, nil
}

func parseFrame(frame []byte) (compression.Codec, uint64, []byte, error) {
	if len(frame) < 3 {
		return 0, 0, nil, integrity("frame of %d bytes", len(frame))
	}
	tag := compression.Codec(frame[0])
	rest := frame[1:]
	plaintextLength, read := binary.Uvarint(rest)
	if read <= 0 {
		return 0, 0, nil, integrity("bad plaintext length")
	}
	rest = rest[read:]
	compressedLength, read := binary.Uvarint(rest)
	if read <= 0 {
		return 0, 0, nil, integrity("bad compressed length")
	}
	rest = rest[read:]
	if compressedLength > uint64(len(rest)) {
		return 0, 0, nil, integrity("compressed length %d exceeds frame", compressedLength)
	}
	body := rest[:compressedLength]
	for _, padding := range rest[compressedLength:] {
		if padding != 0 {
			return 0, 0, nil, integrity("non-zero padding")
		}
	}
	return tag, plaintextLength, body, nil
}

func integrity(format string, arguments ...any) error {
	return fmt.Errorf("%w: %s", archive.ErrIntegrity, fmt.Sprintf(format, arguments...))
}
