// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package checksum

import (
	"fmt"
	"strconv"
)

// adlerModulus is the largest prime below 2^16, as in zlib's Adler-32.
const adlerModulus = 65521

// Part is the checksum1 value recorded for whole-block entries.
const Part uint32 = 0

// Weak returns the Adler-32 checksum of data. It equals the value a
// [Rolling] reaches after being positioned over the same bytes.
func Weak(data []byte) uint32 {
	r := NewRolling(data)
	return r.Sum32()
}

// Rolling is an Adler-32 checksum over a fixed-size window that can
// slide forward one byte at a time. The zero value is not usable; use
// [NewRolling].
type Rolling struct {
	a, b uint32

	// windowMod is the window length reduced modulo adlerModulus, so
	// windowMod*out cannot overflow uint32.
	windowMod uint32
}

// NewRolling computes the checksum of window. The window length is
// fixed for the lifetime of the returned value.
func NewRolling(window []byte) Rolling {
	a, b := uint32(1), uint32(0)
	for _, x := range window {
		a += uint32(x)
		if a >= adlerModulus {
			a -= adlerModulus
		}
		b += a
		if b >= adlerModulus {
			b -= adlerModulus
		}
	}
	return Rolling{
		a:         a,
		b:         b,
		windowMod: uint32(len(window) % adlerModulus),
	}
}

// Roll slides the window one byte: out leaves at the front, in enters
// at the back.
func (r *Rolling) Roll(out, in byte) {
	a := (r.a + adlerModulus - uint32(out) + uint32(in)) % adlerModulus
	b := (r.b + adlerModulus - (r.windowMod*uint32(out))%adlerModulus) % adlerModulus
	b = (b + a + adlerModulus - 1) % adlerModulus
	r.a, r.b = a, b
}

// Sum32 returns the checksum of the current window.
func (r *Rolling) Sum32() uint32 {
	return r.b<<16 | r.a
}

// FormatWeak renders a weak checksum as 8 lower-case hex digits.
func FormatWeak(value uint32) string {
	return fmt.Sprintf("%08x", value)
}

// ParseWeak parses the output of [FormatWeak].
func ParseWeak(text string) (uint32, error) {
	if len(text) != 8 {
		return 0, fmt.Errorf("weak checksum %q: expected 8 hex digits, got %d characters", text, len(text))
	}
	value, err := strconv.ParseUint(text, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("weak checksum %q: %w", text, err)
	}
	return uint32(value), nil
}
