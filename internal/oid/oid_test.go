package oid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []uint32
		wantErr bool
	}{
		{name: "leading dot", input: ".1.3.6.1.2.1", want: []uint32{1, 3, 6, 1, 2, 1}},
		{name: "no leading dot", input: "1.3.6", want: []uint32{1, 3, 6}},
		{name: "max arc", input: ".1.3.4294967295", want: []uint32{1, 3, 4294967295}},
		{name: "empty", input: "", wantErr: true},
		{name: "only dot", input: ".", wantErr: true},
		{name: "double dot", input: ".1..3", wantErr: true},
		{name: "trailing dot", input: ".1.3.", wantErr: true},
		{name: "non numeric", input: ".1.3.x", wantErr: true},
		{name: "negative", input: ".1.-3", wantErr: true},
		{name: "overflow", input: ".1.3.4294967296", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatRoundTrip(t *testing.T) {
	arcs := []uint32{1, 3, 6, 1, 4, 1, 300, 0}
	s := Format(arcs)
	assert.Equal(t, ".1.3.6.1.4.1.300.0", s)

	back, err := Parse(s)
	require.NoError(t, err)
	assert.Equal(t, arcs, back)
}

func TestJoin(t *testing.T) {
	assert.Equal(t, ".1.3.6.1.4.1.5.1.0", Join(".1.3.6.1.4.1.5", ".1.0"))
	assert.Equal(t, ".1.3.6.1.4.1.5.1.0", Join("1.3.6.1.4.1.5", "1.0"))
	assert.Equal(t, ".1.3.6.1.4.1.5.1.0", Join(".1.3.6.1.4.1.5.", ".1.0"))
	assert.Equal(t, ".1.0", Join("", "1.0"))
}

func TestCompareArcsIsNumeric(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{".1.3.6.1.9", ".1.3.6.1.10", -1},
		{".1.3.6.1.10", ".1.3.6.1.9", 1},
		{".1.3.6.1", ".1.3.6.1.1", -1},
		{".1.3.6.1.2.1", ".1.3.6.1.2.1", 0},
		{"1.3.6.1.2.1", ".1.3.6.1.2.1", 0},
		{".1.3.6.1.2.1.1.3.0", ".1.3.6.1.2.1.1.5.0", -1},
		{".2", ".1.3.6", 1},
	}

	for _, tt := range tests {
		a, err := Parse(tt.a)
		require.NoError(t, err)
		b, err := Parse(tt.b)
		require.NoError(t, err)
		assert.Equal(t, tt.want, CompareArcs(a, b), "CompareArcs(%q, %q)", tt.a, tt.b)
	}
}
