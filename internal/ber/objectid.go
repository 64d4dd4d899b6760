package ber

import (
	"fmt"
	"math"

	"github.com/geekxflood/proteus/internal/oid"
)

// ParseObjectIdentifier decodes OBJECT IDENTIFIER content into its arcs.
func ParseObjectIdentifier(content []byte) ([]uint32, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: empty object identifier", ErrMalformed)
	}

	arcs := make([]uint32, 0, len(content)+1)
	first := true
	for i := 0; i < len(content); {
		var v uint64
		terminated := false
		for i < len(content) {
			b := content[i]
			i++
			v = v<<7 | uint64(b&0x7f)
			if v > math.MaxUint32+80 {
				return nil, fmt.Errorf("%w: object identifier arc overflow", ErrMalformed)
			}
			if b&0x80 == 0 {
				terminated = true
				break
			}
		}
		if !terminated {
			return nil, fmt.Errorf("%w: unterminated object identifier arc", ErrMalformed)
		}

		if first {
			first = false
			switch {
			case v < 40:
				arcs = append(arcs, 0, uint32(v))
			case v < 80:
				arcs = append(arcs, 1, uint32(v-40))
			default:
				arcs = append(arcs, 2, uint32(v-80))
			}
			continue
		}
		if v > math.MaxUint32 {
			return nil, fmt.Errorf("%w: object identifier arc overflow", ErrMalformed)
		}
		arcs = append(arcs, uint32(v))
	}
	return arcs, nil
}

// AppendObjectIdentifier appends the content encoding of arcs to dst.
func AppendObjectIdentifier(dst []byte, arcs []uint32) ([]byte, error) {
	if err := checkEncodable(arcs); err != nil {
		return dst, err
	}

	dst = appendBase128(dst, uint64(arcs[0])*40+uint64(arcs[1]))
	for _, arc := range arcs[2:] {
		dst = appendBase128(dst, uint64(arc))
	}
	return dst, nil
}

// ObjectIdentifierLen returns the content length of the encoding of arcs.
func ObjectIdentifierLen(arcs []uint32) int {
	if len(arcs) < 2 {
		return 0
	}
	n := base128Len(uint64(arcs[0])*40 + uint64(arcs[1]))
	for _, arc := range arcs[2:] {
		n += base128Len(uint64(arc))
	}
	return n
}

func checkEncodable(arcs []uint32) error {
	if len(arcs) < 2 {
		return fmt.Errorf("%w: object identifier needs at least two arcs, got %q", oid.ErrInvalid, oid.Format(arcs))
	}
	if arcs[0] > 2 {
		return fmt.Errorf("%w: first arc must be 0, 1 or 2 in %q", oid.ErrInvalid, oid.Format(arcs))
	}
	if arcs[0] < 2 && arcs[1] >= 40 {
		return fmt.Errorf("%w: second arc must be below 40 in %q", oid.ErrInvalid, oid.Format(arcs))
	}
	if arcs[0] == 2 && arcs[1] > math.MaxUint32-80 {
		return fmt.Errorf("%w: second arc too large in %q", oid.ErrInvalid, oid.Format(arcs))
	}
	return nil
}

func appendBase128(dst []byte, v uint64) []byte {
	n := base128Len(v)
	for i := n - 1; i >= 0; i-- {
		b := byte(v>>(7*i)) & 0x7f
		if i > 0 {
			b |= 0x80
		}
		dst = append(dst, b)
	}
	return dst
}

func base128Len(v uint64) int {
	n := 1
	for v >= 0x80 {
		n++
		v >>= 7
	}
	return n
}
