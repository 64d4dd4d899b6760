package ber

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/geekxflood/proteus/internal/oid"
)

// Value is a decoded SNMP variable value. The concrete types below form a
// closed set; switch on them exhaustively.
type Value interface {
	// Tag returns the wire tag of the value.
	Tag() Tag
	String() string
	isValue()
}

type (
	// Integer is an INTEGER (Integer32).
	Integer int32

	// OctetString is an OCTET STRING.
	OctetString []byte

	// ObjectIdentifier is a dotted-decimal OID with a leading dot.
	ObjectIdentifier string

	// Null is the NULL placeholder used in request varbinds.
	Null struct{}

	// Counter32 is a wrapping unsigned 32-bit counter.
	Counter32 uint32

	// Gauge32 is an unsigned 32-bit gauge.
	Gauge32 uint32

	// TimeTicks counts hundredths of a second.
	TimeTicks uint32

	// Counter64 is a wrapping unsigned 64-bit counter.
	Counter64 uint64

	// NoSuchObject is the SNMPv2 exception for an unknown object.
	NoSuchObject struct{}

	// NoSuchInstance is the SNMPv2 exception for an unknown instance.
	NoSuchInstance struct{}

	// EndOfMibView is the SNMPv2 exception ending a walk.
	EndOfMibView struct{}
)

func (Integer) Tag() Tag          { return TagInteger }
func (OctetString) Tag() Tag      { return TagOctetString }
func (ObjectIdentifier) Tag() Tag { return TagObjectIdentifier }
func (Null) Tag() Tag             { return TagNull }
func (Counter32) Tag() Tag        { return TagCounter32 }
func (Gauge32) Tag() Tag          { return TagGauge32 }
func (TimeTicks) Tag() Tag        { return TagTimeTicks }
func (Counter64) Tag() Tag        { return TagCounter64 }
func (NoSuchObject) Tag() Tag     { return TagNoSuchObject }
func (NoSuchInstance) Tag() Tag   { return TagNoSuchInstance }
func (EndOfMibView) Tag() Tag     { return TagEndOfMibView }

func (v Integer) String() string          { return strconv.FormatInt(int64(v), 10) }
func (v OctetString) String() string      { return string(v) }
func (v ObjectIdentifier) String() string { return string(v) }
func (Null) String() string               { return "NULL" }
func (v Counter32) String() string        { return strconv.FormatUint(uint64(v), 10) }
func (v Gauge32) String() string          { return strconv.FormatUint(uint64(v), 10) }
func (v TimeTicks) String() string        { return strconv.FormatUint(uint64(v), 10) }
func (v Counter64) String() string        { return strconv.FormatUint(uint64(v), 10) }
func (NoSuchObject) String() string       { return "noSuchObject" }
func (NoSuchInstance) String() string     { return "noSuchInstance" }
func (EndOfMibView) String() string       { return "endOfMibView" }

func (Integer) isValue()          {}
func (OctetString) isValue()      {}
func (ObjectIdentifier) isValue() {}
func (Null) isValue()             {}
func (Counter32) isValue()        {}
func (Gauge32) isValue()          {}
func (TimeTicks) isValue()        {}
func (Counter64) isValue()        {}
func (NoSuchObject) isValue()     {}
func (NoSuchInstance) isValue()   {}
func (EndOfMibView) isValue()     {}

// DecodeValue converts a varbind value element into a Value. Octet string
// content is copied so the result does not alias the packet buffer.
func DecodeValue(el Element) (Value, error) {
	switch el.Tag {
	case TagInteger:
		v, err := ParseInt(el.Value, 32)
		if err != nil {
			return nil, err
		}
		return Integer(v), nil
	case TagOctetString:
		return OctetString(bytes.Clone(el.Value)), nil
	case TagObjectIdentifier:
		arcs, err := ParseObjectIdentifier(el.Value)
		if err != nil {
			return nil, err
		}
		return ObjectIdentifier(oid.Format(arcs)), nil
	case TagNull:
		if el.Length != 0 {
			return nil, fmt.Errorf("%w: NULL with %d content bytes", ErrMalformed, el.Length)
		}
		return Null{}, nil
	case TagCounter32, TagGauge32, TagTimeTicks:
		v, err := ParseUint(el.Value, 32)
		if err != nil {
			return nil, err
		}
		switch el.Tag {
		case TagCounter32:
			return Counter32(v), nil
		case TagGauge32:
			return Gauge32(v), nil
		default:
			return TimeTicks(v), nil
		}
	case TagCounter64:
		v, err := ParseUint(el.Value, 64)
		if err != nil {
			return nil, err
		}
		return Counter64(v), nil
	case TagNoSuchObject:
		return NoSuchObject{}, nil
	case TagNoSuchInstance:
		return NoSuchInstance{}, nil
	case TagEndOfMibView:
		return EndOfMibView{}, nil
	default:
		return nil, fmt.Errorf("%w: %s is not a varbind value", ErrMalformed, el.Tag)
	}
}

// ValueContent returns the content octets of v, appended to dst.
func ValueContent(dst []byte, v Value) ([]byte, error) {
	switch val := v.(type) {
	case Integer:
		return AppendInt(dst, int64(val)), nil
	case OctetString:
		return append(dst, val...), nil
	case ObjectIdentifier:
		arcs, err := oid.Parse(string(val))
		if err != nil {
			return dst, err
		}
		return AppendObjectIdentifier(dst, arcs)
	case Counter32:
		return AppendUint(dst, uint64(val)), nil
	case Gauge32:
		return AppendUint(dst, uint64(val)), nil
	case TimeTicks:
		return AppendUint(dst, uint64(val)), nil
	case Counter64:
		return AppendUint(dst, uint64(val)), nil
	case Null, NoSuchObject, NoSuchInstance, EndOfMibView:
		return dst, nil
	default:
		return dst, fmt.Errorf("ber: cannot encode value of type %T", v)
	}
}
