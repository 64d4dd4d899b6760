// Package oid implements parsing, formatting and ordering of SNMP object identifiers
// in their dotted-decimal string form.
package oid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalid is returned for strings that are not dotted-decimal OIDs.
var ErrInvalid = errors.New("invalid object identifier")

// Parse splits a dotted-decimal OID into its arcs. The leading dot is optional.
func Parse(s string) ([]uint32, error) {
	s = strings.TrimPrefix(s, ".")
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalid)
	}

	parts := strings.Split(s, ".")
	arcs := make([]uint32, len(parts))
	for i, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("%w: empty arc at position %d", ErrInvalid, i)
		}
		v, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: arc %q", ErrInvalid, part)
		}
		arcs[i] = uint32(v)
	}
	return arcs, nil
}

// Format renders arcs in dotted-decimal form with a leading dot.
func Format(arcs []uint32) string {
	var b strings.Builder
	b.Grow(len(arcs) * 4)
	for _, arc := range arcs {
		b.WriteByte('.')
		b.WriteString(strconv.FormatUint(uint64(arc), 10))
	}
	return b.String()
}

// Normalize returns s with exactly one leading dot.
func Normalize(s string) string {
	if s == "" || s[0] == '.' {
		return s
	}
	return "." + s
}

// Valid reports whether s parses as an OID.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Join resolves suffix under prefix. An empty prefix yields the normalized suffix.
func Join(prefix, suffix string) string {
	prefix = strings.TrimSuffix(Normalize(prefix), ".")
	return prefix + Normalize(suffix)
}

// CompareArcs orders two arc sequences numerically, arc by arc. A strict prefix
// sorts before the longer sequence.
func CompareArcs(a, b []uint32) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}
