package ber

import (
	"fmt"
	"math"
)

// ParseInt decodes a two's-complement INTEGER content that must fit in bits.
func ParseInt(content []byte, bits int) (int64, error) {
	if len(content) == 0 {
		return 0, fmt.Errorf("%w: empty integer", ErrMalformed)
	}
	if len(content) > 8 {
		return 0, fmt.Errorf("%w: integer too large (%d bytes)", ErrMalformed, len(content))
	}

	var v int64
	if content[0]&0x80 != 0 {
		v = -1
	}
	for _, b := range content {
		v = v<<8 | int64(b)
	}

	if bits < 64 {
		lo, hi := -int64(1)<<(bits-1), int64(1)<<(bits-1)-1
		if v < lo || v > hi {
			return 0, fmt.Errorf("%w: integer %d out of %d-bit range", ErrMalformed, v, bits)
		}
	}
	return v, nil
}

// ParseUint decodes an unsigned application integer that must fit in bits. A
// leading 0x00 used only for sign disambiguation is stripped.
func ParseUint(content []byte, bits int) (uint64, error) {
	if len(content) == 0 {
		return 0, fmt.Errorf("%w: empty integer", ErrMalformed)
	}
	if len(content) > 1 && content[0] == 0x00 {
		content = content[1:]
	}
	if len(content) > bits/8 {
		return 0, fmt.Errorf("%w: unsigned integer exceeds %d bits", ErrMalformed, bits)
	}

	var v uint64
	for _, b := range content {
		v = v<<8 | uint64(b)
	}
	if bits < 64 && v > uint64(1)<<bits-1 {
		return 0, fmt.Errorf("%w: unsigned integer out of range", ErrMalformed)
	}
	return v, nil
}

// AppendInt appends the minimal two's-complement encoding of v to dst.
func AppendInt(dst []byte, v int64) []byte {
	n := signedLen(v)
	for i := n - 1; i >= 0; i-- {
		dst = append(dst, byte(v>>(8*i)))
	}
	return dst
}

// AppendUint appends the minimal unsigned encoding of v, with a leading 0x00
// when the high bit of the first byte would otherwise be set.
func AppendUint(dst []byte, v uint64) []byte {
	n := unsignedLen(v)
	for i := n - 1; i >= 0; i-- {
		if i >= 8 {
			dst = append(dst, 0x00)
			continue
		}
		dst = append(dst, byte(v>>(8*i)))
	}
	return dst
}

func signedLen(v int64) int {
	n := 1
	for v > math.MaxInt8 || v < math.MinInt8 {
		n++
		v >>= 8
	}
	return n
}

func unsignedLen(v uint64) int {
	n := 1
	for v > math.MaxInt8 {
		n++
		v >>= 8
	}
	return n
}
