package storage

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/geekxflood/proteus/internal/ber"
)

// record is the persisted form of a value.
type record struct {
	Tag   uint8  `cbor:"1,keyasint"`
	Int   int64  `cbor:"2,keyasint,omitempty"`
	Uint  uint64 `cbor:"3,keyasint,omitempty"`
	Bytes []byte `cbor:"4,keyasint,omitempty"`
	Text  string `cbor:"5,keyasint,omitempty"`
}

var (
	recordEncMode cbor.EncMode
	recordDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	recordEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create record CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}
	recordDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create record CBOR decoder mode: %v", err))
	}
}

// EncodeValue encodes v to its CBOR record.
func EncodeValue(v ber.Value) ([]byte, error) {
	r := record{Tag: uint8(v.Tag())}

	switch v := v.(type) {
	case ber.Integer:
		r.Int = int64(v)
	case ber.OctetString:
		r.Bytes = v
	case ber.ObjectIdentifier:
		r.Text = string(v)
	case ber.Counter32:
		r.Uint = uint64(v)
	case ber.Gauge32:
		r.Uint = uint64(v)
	case ber.TimeTicks:
		r.Uint = uint64(v)
	case ber.Counter64:
		r.Uint = uint64(v)
	default:
		return nil, fmt.Errorf("cannot persist %s value", v.Tag())
	}

	return recordEncMode.Marshal(r)
}

// DecodeValue decodes a CBOR record produced by EncodeValue.
func DecodeValue(data []byte) (ber.Value, error) {
	var r record
	if err := recordDecMode.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode value record: %w", err)
	}

	switch ber.Tag(r.Tag) {
	case ber.TagInteger:
		if r.Int < -1<<31 || r.Int > 1<<31-1 {
			return nil, fmt.Errorf("integer record %d out of range", r.Int)
		}
		return ber.Integer(r.Int), nil
	case ber.TagOctetString:
		if r.Bytes == nil {
			return ber.OctetString{}, nil
		}
		return ber.OctetString(r.Bytes), nil
	case ber.TagObjectIdentifier:
		return ber.ObjectIdentifier(r.Text), nil
	case ber.TagCounter32, ber.TagGauge32, ber.TagTimeTicks:
		if r.Uint > 1<<32-1 {
			return nil, fmt.Errorf("%s record %d out of range", ber.Tag(r.Tag), r.Uint)
		}
		switch ber.Tag(r.Tag) {
		case ber.TagCounter32:
			return ber.Counter32(r.Uint), nil
		case ber.TagGauge32:
			return ber.Gauge32(r.Uint), nil
		default:
			return ber.TimeTicks(r.Uint), nil
		}
	case ber.TagCounter64:
		return ber.Counter64(r.Uint), nil
	default:
		return nil, fmt.Errorf("unsupported record tag 0x%02x", r.Tag)
	}
}
