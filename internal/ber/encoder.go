package ber

import (
	"fmt"

	"github.com/geekxflood/proteus/internal/oid"
)

// Encoder builds a BER message backwards from the end of a fixed buffer.
// Content is written before its header, so constructed types are emitted by
// writing their children last-to-first and then calling Wrap with the mark
// taken before the children. The buffer is never grown.
type Encoder struct {
	buf []byte
	pos int
}

// NewEncoder returns an encoder writing into buf.
func NewEncoder(buf []byte) *Encoder {
	return &Encoder{buf: buf, pos: len(buf)}
}

// Len returns the number of bytes written. It doubles as a mark for Wrap.
func (e *Encoder) Len() int {
	return len(e.buf) - e.pos
}

// Bytes returns the encoded message. It aliases the encoder's buffer.
func (e *Encoder) Bytes() []byte {
	return e.buf[e.pos:]
}

// PrependBytes writes raw octets in front of the current output.
func (e *Encoder) PrependBytes(p []byte) error {
	if len(p) > e.pos {
		return ErrBufferFull
	}
	e.pos -= len(p)
	copy(e.buf[e.pos:], p)
	return nil
}

// PrependHeader writes a tag and length for n bytes of content already written.
func (e *Encoder) PrependHeader(tag Tag, n int) error {
	size := lengthSize(n)
	if size+1 > e.pos {
		return ErrBufferFull
	}
	e.pos -= size
	putLength(e.buf[e.pos:], n)
	e.pos--
	e.buf[e.pos] = byte(tag)
	return nil
}

// PrependTLV writes a complete primitive TLV.
func (e *Encoder) PrependTLV(tag Tag, content []byte) error {
	if EncodedLen(len(content)) > e.pos {
		return ErrBufferFull
	}
	if err := e.PrependBytes(content); err != nil {
		return err
	}
	return e.PrependHeader(tag, len(content))
}

// Wrap closes a constructed value whose content was written since mark.
func (e *Encoder) Wrap(tag Tag, mark int) error {
	return e.PrependHeader(tag, e.Len()-mark)
}

// PrependInt writes a signed integer with the given tag.
func (e *Encoder) PrependInt(tag Tag, v int64) error {
	var scratch [9]byte
	return e.PrependTLV(tag, AppendInt(scratch[:0], v))
}

// PrependUint writes an unsigned integer with the given tag.
func (e *Encoder) PrependUint(tag Tag, v uint64) error {
	var scratch [9]byte
	return e.PrependTLV(tag, AppendUint(scratch[:0], v))
}

// PrependOctetString writes an OCTET STRING.
func (e *Encoder) PrependOctetString(p []byte) error {
	return e.PrependTLV(TagOctetString, p)
}

// PrependNull writes a NULL.
func (e *Encoder) PrependNull() error {
	return e.PrependTLV(TagNull, nil)
}

// PrependObjectIdentifier writes an OBJECT IDENTIFIER given in dotted form.
func (e *Encoder) PrependObjectIdentifier(s string) error {
	arcs, err := oid.Parse(s)
	if err != nil {
		return err
	}
	if err := checkEncodable(arcs); err != nil {
		return err
	}

	n := ObjectIdentifierLen(arcs)
	if EncodedLen(n) > e.pos {
		return ErrBufferFull
	}
	for i := len(arcs) - 1; i >= 2; i-- {
		e.prependBase128(uint64(arcs[i]))
	}
	e.prependBase128(uint64(arcs[0])*40 + uint64(arcs[1]))
	return e.PrependHeader(TagObjectIdentifier, n)
}

// PrependValue writes any Value with its own tag.
func (e *Encoder) PrependValue(v Value) error {
	switch val := v.(type) {
	case Integer:
		return e.PrependInt(TagInteger, int64(val))
	case OctetString:
		return e.PrependOctetString(val)
	case ObjectIdentifier:
		return e.PrependObjectIdentifier(string(val))
	case Null:
		return e.PrependNull()
	case Counter32:
		return e.PrependUint(TagCounter32, uint64(val))
	case Gauge32:
		return e.PrependUint(TagGauge32, uint64(val))
	case TimeTicks:
		return e.PrependUint(TagTimeTicks, uint64(val))
	case Counter64:
		return e.PrependUint(TagCounter64, uint64(val))
	case NoSuchObject, NoSuchInstance, EndOfMibView:
		return e.PrependTLV(val.Tag(), nil)
	default:
		return fmt.Errorf("ber: cannot encode value of type %T", v)
	}
}

// prependBase128 assumes capacity has been checked by the caller.
func (e *Encoder) prependBase128(v uint64) {
	e.pos--
	e.buf[e.pos] = byte(v & 0x7f)
	for v >>= 7; v > 0; v >>= 7 {
		e.pos--
		e.buf[e.pos] = byte(v&0x7f) | 0x80
	}
}
