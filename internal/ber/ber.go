// Package ber implements the subset of ASN.1 Basic Encoding Rules used by SNMP:
// tag/length/value framing, integers, octet strings, NULL, object identifiers,
// sequences, the SNMP application types and the PDU context tags.
package ber

import (
	"errors"
	"fmt"

	"github.com/geekxflood/proteus/internal/types"
)

// Tag is a single-byte BER identifier octet.
type Tag byte

// Universal tags
const (
	TagInteger          Tag = 0x02
	TagOctetString      Tag = 0x04
	TagNull             Tag = 0x05
	TagObjectIdentifier Tag = 0x06
	TagSequence         Tag = 0x30
)

// SNMP application tags
const (
	TagCounter32 Tag = 0x41 // Application tag 1
	TagGauge32   Tag = 0x42 // Application tag 2
	TagTimeTicks Tag = 0x43 // Application tag 3
	TagCounter64 Tag = 0x46 // Application tag 6
)

// SNMP PDU context-specific tags
const (
	TagGetRequest     Tag = 0xA0
	TagGetNextRequest Tag = 0xA1
	TagGetResponse    Tag = 0xA2
	TagSetRequest     Tag = 0xA3
)

// SNMPv2 varbind exception tags
const (
	TagNoSuchObject   Tag = 0x80
	TagNoSuchInstance Tag = 0x81
	TagEndOfMibView   Tag = 0x82
)

var (
	// ErrMalformed reports input that is not valid BER for the supported subset.
	ErrMalformed = errors.New("ber: malformed encoding")

	// ErrBufferFull reports that valid output did not fit the destination.
	ErrBufferFull = errors.New("ber: buffer full")
)

// Known reports whether the codec understands the tag.
func (t Tag) Known() bool {
	switch t {
	case TagInteger, TagOctetString, TagNull, TagObjectIdentifier, TagSequence,
		TagCounter32, TagGauge32, TagTimeTicks, TagCounter64,
		TagGetRequest, TagGetNextRequest, TagGetResponse, TagSetRequest,
		TagNoSuchObject, TagNoSuchInstance, TagEndOfMibView:
		return true
	}
	return false
}

// Constructed reports whether the tag introduces nested TLVs.
func (t Tag) Constructed() bool {
	return t&0x20 != 0
}

// String returns the ASN.1 or SNMP name of the tag.
func (t Tag) String() string {
	switch t {
	case TagInteger:
		return "INTEGER"
	case TagOctetString:
		return "OCTET STRING"
	case TagNull:
		return "NULL"
	case TagObjectIdentifier:
		return "OBJECT IDENTIFIER"
	case TagSequence:
		return "SEQUENCE"
	case TagCounter32:
		return "Counter32"
	case TagGauge32:
		return "Gauge32"
	case TagTimeTicks:
		return "TimeTicks"
	case TagCounter64:
		return "Counter64"
	case TagGetRequest:
		return "GetRequest-PDU"
	case TagGetNextRequest:
		return "GetNextRequest-PDU"
	case TagGetResponse:
		return "GetResponse-PDU"
	case TagSetRequest:
		return "SetRequest-PDU"
	case TagNoSuchObject:
		return "noSuchObject"
	case TagNoSuchInstance:
		return "noSuchInstance"
	case TagEndOfMibView:
		return "endOfMibView"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", byte(t))
	}
}

// Element is one decoded TLV. Value aliases the source buffer.
type Element struct {
	Tag    Tag
	Length int
	Value  []byte
}

// Decode reads the TLV starting at offset and returns it with the offset of
// the byte following it.
func Decode(buf []byte, offset int) (Element, int, error) {
	if offset < 0 || offset >= len(buf) {
		return Element{}, offset, malformed(offset, "unexpected end of data")
	}

	tag := Tag(buf[offset])
	if !tag.Known() {
		return Element{}, offset, malformed(offset, fmt.Sprintf("unsupported tag 0x%02x", byte(tag)))
	}

	length, next, err := decodeLength(buf, offset+1)
	if err != nil {
		return Element{}, offset, err
	}

	if length > len(buf)-next {
		return Element{}, offset, malformed(next, fmt.Sprintf("length %d exceeds remaining %d bytes", length, len(buf)-next))
	}

	end := next + length
	return Element{Tag: tag, Length: length, Value: buf[next:end:end]}, end, nil
}

// Expect decodes the TLV at offset and checks its tag.
func Expect(buf []byte, offset int, tag Tag) (Element, int, error) {
	el, next, err := Decode(buf, offset)
	if err != nil {
		return el, next, err
	}
	if el.Tag != tag {
		return el, offset, malformed(offset, fmt.Sprintf("expected %s, got %s", tag, el.Tag))
	}
	return el, next, nil
}

// Encode writes a complete TLV into dst and returns the number of bytes written.
func Encode(dst []byte, tag Tag, value []byte) (int, error) {
	total := 1 + lengthSize(len(value)) + len(value)
	if total > len(dst) {
		return 0, ErrBufferFull
	}

	dst[0] = byte(tag)
	n := 1 + putLength(dst[1:], len(value))
	n += copy(dst[n:], value)
	return n, nil
}

// EncodedLen returns the size of a TLV whose content is n bytes long.
func EncodedLen(n int) int {
	return 1 + lengthSize(n) + n
}

func decodeLength(buf []byte, offset int) (int, int, error) {
	if offset >= len(buf) {
		return 0, offset, malformed(offset, "missing length")
	}

	first := buf[offset]
	offset++
	if first < 0x80 {
		return int(first), offset, nil
	}

	count := int(first & 0x7f)
	if count == 0 {
		return 0, offset, malformed(offset-1, "indefinite length not supported")
	}
	if count > 4 {
		return 0, offset, malformed(offset-1, fmt.Sprintf("length of length %d too large", count))
	}
	if count > len(buf)-offset {
		return 0, offset, malformed(offset, "truncated long-form length")
	}

	length := 0
	for i := 0; i < count; i++ {
		length = length<<8 | int(buf[offset+i])
	}
	if length < 0 || length > 1<<30 {
		return 0, offset, malformed(offset, "length out of range")
	}
	return length, offset + count, nil
}

func lengthSize(n int) int {
	if n < 0x80 {
		return 1
	}
	size := 1
	for n > 0 {
		size++
		n >>= 8
	}
	return size
}

// putLength writes the length octets into dst, which must be large enough.
func putLength(dst []byte, n int) int {
	if n < 0x80 {
		dst[0] = byte(n)
		return 1
	}
	size := lengthSize(n) - 1
	dst[0] = 0x80 | byte(size)
	for i := size; i > 0; i-- {
		dst[i] = byte(n)
		n >>= 8
	}
	return size + 1
}

func malformed(offset int, msg string) error {
	return types.ParseError{Offset: offset, Message: msg, Err: ErrMalformed}
}
