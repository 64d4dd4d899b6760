package ber

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()

	content, err := ValueContent(nil, v)
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := Encode(buf, v.Tag(), content)
	require.NoError(t, err)

	el, next, err := Decode(buf[:n], 0)
	require.NoError(t, err)
	assert.Equal(t, n, next)
	assert.Equal(t, v.Tag(), el.Tag)

	got, err := DecodeValue(el)
	require.NoError(t, err)
	return got
}

func TestValueRoundTripBoundaries(t *testing.T) {
	values := []Value{
		Integer(0),
		Integer(-1),
		Integer(127),
		Integer(128),
		Integer(-128),
		Integer(-129),
		Integer(math.MaxInt32),
		Integer(math.MinInt32),
		Counter32(0),
		Counter32(math.MaxUint32),
		Gauge32(0),
		Gauge32(math.MaxUint32),
		TimeTicks(math.MaxUint32),
		Counter64(0),
		Counter64(math.MaxUint64),
		OctetString("router1"),
		OctetString{},
		ObjectIdentifier(".1.3.6.1.4.1.300.0"),
		ObjectIdentifier(".2.999.1"),
		ObjectIdentifier(".1.3.6.1.4.1.4294967295"),
		Null{},
		NoSuchObject{},
		NoSuchInstance{},
		EndOfMibView{},
	}

	for _, v := range values {
		t.Run(v.Tag().String()+"/"+v.String(), func(t *testing.T) {
			assert.Equal(t, v, roundTrip(t, v))
		})
	}
}

func TestIntegerEncodingIsMinimal(t *testing.T) {
	tests := []struct {
		value int64
		want  []byte
	}{
		{0, []byte{0x00}},
		{-1, []byte{0xff}},
		{127, []byte{0x7f}},
		{128, []byte{0x00, 0x80}},
		{256, []byte{0x01, 0x00}},
		{-128, []byte{0x80}},
		{-129, []byte{0xff, 0x7f}},
		{12345, []byte{0x30, 0x39}},
		{math.MaxInt32, []byte{0x7f, 0xff, 0xff, 0xff}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, AppendInt(nil, tt.value), "AppendInt(%d)", tt.value)
	}
}

func TestUnsignedEncodingPadsHighBit(t *testing.T) {
	assert.Equal(t, []byte{0x00, 0xff}, AppendUint(nil, 255))
	assert.Equal(t, []byte{0x00, 0xff, 0xff, 0xff, 0xff}, AppendUint(nil, math.MaxUint32))
	assert.Len(t, AppendUint(nil, math.MaxUint64), 9)

	v, err := ParseUint([]byte{0x00, 0xff, 0xff, 0xff, 0xff}, 32)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint32), v)
}

func TestObjectIdentifierMultiByteArc(t *testing.T) {
	content, err := AppendObjectIdentifier(nil, []uint32{1, 3, 6, 1, 4, 1, 300})
	require.NoError(t, err)
	// 300 = 0b10_0101100 -> 0x82 0x2c
	assert.Equal(t, []byte{0x2b, 0x06, 0x01, 0x04, 0x01, 0x82, 0x2c}, content)

	arcs, err := ParseObjectIdentifier(content)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 3, 6, 1, 4, 1, 300}, arcs)
}

func TestLengthForms(t *testing.T) {
	short := make([]byte, 127)
	buf := make([]byte, 512)

	n, err := Encode(buf, TagOctetString, short)
	require.NoError(t, err)
	assert.Equal(t, byte(127), buf[1])
	assert.Equal(t, 129, n)

	long := make([]byte, 300)
	n, err = Encode(buf, TagOctetString, long)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x82, 0x01, 0x2c}, buf[1:4])
	assert.Equal(t, 304, n)

	el, next, err := Decode(buf[:n], 0)
	require.NoError(t, err)
	assert.Equal(t, 300, el.Length)
	assert.Equal(t, n, next)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{name: "empty", input: nil},
		{name: "unknown tag", input: []byte{0x01, 0x01, 0xff}},
		{name: "opaque tag", input: []byte{0x44, 0x00}},
		{name: "missing length", input: []byte{0x02}},
		{name: "truncated content", input: []byte{0x04, 0x05, 'a', 'b'}},
		{name: "indefinite length", input: []byte{0x30, 0x80, 0x00, 0x00}},
		{name: "long form count beyond buffer", input: []byte{0x04, 0x84, 0x00}},
		{name: "long form count too large", input: []byte{0x04, 0x85, 0, 0, 0, 0, 1, 'a'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.input, 0)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
			assert.False(t, errors.Is(err, ErrBufferFull))
		})
	}
}

func TestDecodeValueMalformed(t *testing.T) {
	tests := []struct {
		name string
		el   Element
	}{
		{name: "empty integer", el: Element{Tag: TagInteger}},
		{name: "integer beyond 32 bits", el: Element{Tag: TagInteger, Length: 5, Value: []byte{0x01, 0, 0, 0, 0}}},
		{name: "counter beyond 32 bits", el: Element{Tag: TagCounter32, Length: 5, Value: []byte{0x01, 0, 0, 0, 0}}},
		{name: "null with content", el: Element{Tag: TagNull, Length: 1, Value: []byte{0}}},
		{name: "unterminated oid arc", el: Element{Tag: TagObjectIdentifier, Length: 2, Value: []byte{0x2b, 0x82}}},
		{name: "empty oid", el: Element{Tag: TagObjectIdentifier}},
		{name: "sequence as value", el: Element{Tag: TagSequence}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeValue(tt.el)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}

func TestEncodeBufferFull(t *testing.T) {
	buf := make([]byte, 4)
	_, err := Encode(buf, TagOctetString, []byte("hello"))
	assert.True(t, errors.Is(err, ErrBufferFull))
	assert.False(t, errors.Is(err, ErrMalformed))
}

func TestEncoderBuildsNestedSequences(t *testing.T) {
	buf := make([]byte, 64)
	enc := NewEncoder(buf)

	// SEQUENCE { OID .1.3.6.1.2.1.1.3.0, INTEGER 12345 }, written back to front
	mark := enc.Len()
	require.NoError(t, enc.PrependValue(Integer(12345)))
	require.NoError(t, enc.PrependObjectIdentifier(".1.3.6.1.2.1.1.3.0"))
	require.NoError(t, enc.Wrap(TagSequence, mark))

	want := []byte{
		0x30, 0x0e,
		0x06, 0x08, 0x2b, 0x06, 0x01, 0x02, 0x01, 0x01, 0x03, 0x00,
		0x02, 0x02, 0x30, 0x39,
	}
	assert.Equal(t, want, enc.Bytes())

	seq, _, err := Expect(enc.Bytes(), 0, TagSequence)
	require.NoError(t, err)
	el, next, err := Expect(seq.Value, 0, TagObjectIdentifier)
	require.NoError(t, err)
	name, err := DecodeValue(el)
	require.NoError(t, err)
	assert.Equal(t, ObjectIdentifier(".1.3.6.1.2.1.1.3.0"), name)

	el, _, err = Decode(seq.Value, next)
	require.NoError(t, err)
	v, err := DecodeValue(el)
	require.NoError(t, err)
	assert.Equal(t, Integer(12345), v)
}

func TestEncoderNeverGrows(t *testing.T) {
	buf := make([]byte, 8)
	enc := NewEncoder(buf)

	require.NoError(t, enc.PrependValue(Integer(1)))
	err := enc.PrependValue(OctetString("too long for the rest"))
	assert.True(t, errors.Is(err, ErrBufferFull))
	assert.Equal(t, 3, enc.Len())
	assert.Len(t, buf, 8)

	err = enc.PrependObjectIdentifier(".1.3.6.1.2.1.1.1.0")
	assert.True(t, errors.Is(err, ErrBufferFull))
	assert.Equal(t, 3, enc.Len())
}

func TestEncoderRejectsUnencodableOID(t *testing.T) {
	enc := NewEncoder(make([]byte, 32))
	assert.Error(t, enc.PrependObjectIdentifier(".1"))
	assert.Error(t, enc.PrependObjectIdentifier(".3.1"))
	assert.Error(t, enc.PrependObjectIdentifier(".1.40"))
	assert.Error(t, enc.PrependObjectIdentifier("not.an.oid"))
	assert.Equal(t, 0, enc.Len())
}
