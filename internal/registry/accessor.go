package registry

import (
	"errors"
	"fmt"

	"github.com/geekxflood/proteus/internal/ber"
	"github.com/geekxflood/proteus/internal/oid"
)

var (
	// ErrTypeMismatch is returned when a stored value has the wrong wire type.
	ErrTypeMismatch = errors.New("value type does not match registration")

	// ErrCapacityExceeded is returned when an octet string does not fit its destination.
	ErrCapacityExceeded = errors.New("value exceeds destination capacity")
)

// FixedPointScale is the factor between a FixedPoint value and its wire integer.
const FixedPointScale = 10

// Accessor reads and writes one externally owned value. The implementations
// in this package form a closed set, one per value kind.
type Accessor interface {
	// Type returns the wire tag of values produced and accepted.
	Type() ber.Tag
	// Load reads the current value.
	Load() ber.Value
	// Store writes v, which must carry Type(). The destination is not modified on error.
	Store(v ber.Value) error
	isAccessor()
}

// Integer exposes an int32 as INTEGER.
type Integer struct{ Ptr *int32 }

// FixedPoint exposes a one-decimal value as an INTEGER scaled by
// FixedPointScale. Ptr holds the scaled value, so 2.5 is stored as 25 and
// reads are exact. Writes drop the fractional digit toward zero: 37 is
// stored as 30.
type FixedPoint struct{ Ptr *int32 }

// Restorer is implemented by accessors whose Store is lossy. Restore writes a
// value previously returned by Load back without loss.
type Restorer interface {
	Restore(v ber.Value) error
}

// OctetString exposes a byte slice as OCTET STRING. Writes reuse the slice's
// backing array and fail if the value is longer than its capacity.
type OctetString struct{ Ptr *[]byte }

// ObjectIdentifier exposes a dotted-decimal string as OBJECT IDENTIFIER.
type ObjectIdentifier struct{ Ptr *string }

// Counter32 exposes a uint32 as Counter32.
type Counter32 struct{ Ptr *uint32 }

// Gauge32 exposes a uint32 as Gauge32.
type Gauge32 struct{ Ptr *uint32 }

// TimeTicks exposes a uint32 as TimeTicks.
type TimeTicks struct{ Ptr *uint32 }

// Counter64 exposes a uint64 as Counter64.
type Counter64 struct{ Ptr *uint64 }

func (Integer) Type() ber.Tag          { return ber.TagInteger }
func (FixedPoint) Type() ber.Tag       { return ber.TagInteger }
func (OctetString) Type() ber.Tag      { return ber.TagOctetString }
func (ObjectIdentifier) Type() ber.Tag { return ber.TagObjectIdentifier }
func (Counter32) Type() ber.Tag        { return ber.TagCounter32 }
func (Gauge32) Type() ber.Tag          { return ber.TagGauge32 }
func (TimeTicks) Type() ber.Tag        { return ber.TagTimeTicks }
func (Counter64) Type() ber.Tag        { return ber.TagCounter64 }

func (a Integer) Load() ber.Value { return ber.Integer(*a.Ptr) }

func (a FixedPoint) Load() ber.Value { return ber.Integer(*a.Ptr) }

// Load returns a copy of the current bytes.
func (a OctetString) Load() ber.Value { return ber.OctetString(append([]byte{}, *a.Ptr...)) }

func (a ObjectIdentifier) Load() ber.Value { return ber.ObjectIdentifier(oid.Normalize(*a.Ptr)) }
func (a Counter32) Load() ber.Value        { return ber.Counter32(*a.Ptr) }
func (a Gauge32) Load() ber.Value          { return ber.Gauge32(*a.Ptr) }
func (a TimeTicks) Load() ber.Value        { return ber.TimeTicks(*a.Ptr) }
func (a Counter64) Load() ber.Value        { return ber.Counter64(*a.Ptr) }

func (a Integer) Store(v ber.Value) error {
	val, ok := v.(ber.Integer)
	if !ok {
		return mismatch(a, v)
	}
	*a.Ptr = int32(val)
	return nil
}

func (a FixedPoint) Store(v ber.Value) error {
	val, ok := v.(ber.Integer)
	if !ok {
		return mismatch(a, v)
	}
	*a.Ptr = int32(val) / FixedPointScale * FixedPointScale
	return nil
}

// Restore writes v without dropping the fractional digit.
func (a FixedPoint) Restore(v ber.Value) error {
	val, ok := v.(ber.Integer)
	if !ok {
		return mismatch(a, v)
	}
	*a.Ptr = int32(val)
	return nil
}

// Restore writes a value previously read from acc, bypassing the lossy
// conversion of a Restorer.
func Restore(acc Accessor, v ber.Value) error {
	if r, ok := acc.(Restorer); ok {
		return r.Restore(v)
	}
	return acc.Store(v)
}

func (a OctetString) Store(v ber.Value) error {
	val, ok := v.(ber.OctetString)
	if !ok {
		return mismatch(a, v)
	}
	if len(val) > cap(*a.Ptr) {
		return fmt.Errorf("%w: %d bytes into capacity %d", ErrCapacityExceeded, len(val), cap(*a.Ptr))
	}
	*a.Ptr = append((*a.Ptr)[:0], val...)
	return nil
}

func (a ObjectIdentifier) Store(v ber.Value) error {
	val, ok := v.(ber.ObjectIdentifier)
	if !ok {
		return mismatch(a, v)
	}
	if !oid.Valid(string(val)) {
		return fmt.Errorf("%w: %q", oid.ErrInvalid, string(val))
	}
	*a.Ptr = string(val)
	return nil
}

func (a Counter32) Store(v ber.Value) error {
	val, ok := v.(ber.Counter32)
	if !ok {
		return mismatch(a, v)
	}
	*a.Ptr = uint32(val)
	return nil
}

func (a Gauge32) Store(v ber.Value) error {
	val, ok := v.(ber.Gauge32)
	if !ok {
		return mismatch(a, v)
	}
	*a.Ptr = uint32(val)
	return nil
}

func (a TimeTicks) Store(v ber.Value) error {
	val, ok := v.(ber.TimeTicks)
	if !ok {
		return mismatch(a, v)
	}
	*a.Ptr = uint32(val)
	return nil
}

func (a Counter64) Store(v ber.Value) error {
	val, ok := v.(ber.Counter64)
	if !ok {
		return mismatch(a, v)
	}
	*a.Ptr = uint64(val)
	return nil
}

func (Integer) isAccessor()          {}
func (FixedPoint) isAccessor()       {}
func (OctetString) isAccessor()      {}
func (ObjectIdentifier) isAccessor() {}
func (Counter32) isAccessor()        {}
func (Gauge32) isAccessor()          {}
func (TimeTicks) isAccessor()        {}
func (Counter64) isAccessor()        {}

func mismatch(a Accessor, v ber.Value) error {
	return fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, a.Type(), v.Tag())
}
