package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/geekxflood/common/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geekxflood/proteus/internal/ber"
	"github.com/geekxflood/proteus/internal/registry"
)

func createTestLogger(t *testing.T) logging.Logger {
	t.Helper()
	logger, _, err := logging.NewLogger(logging.Config{Level: "debug", Format: "json"})
	require.NoError(t, err)
	return logger
}

func newTestStorage(t *testing.T, path string) *Storage {
	t.Helper()
	cfg := DefaultStorageConfig()
	cfg.Path = path
	s, err := NewStorage(cfg, createTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestValueRecords(t *testing.T) {
	values := []ber.Value{
		ber.Integer(-2147483648),
		ber.Integer(0),
		ber.OctetString("router1"),
		ber.OctetString{},
		ber.ObjectIdentifier(".1.3.6.1.4.1.99999"),
		ber.Counter32(4294967295),
		ber.Gauge32(12),
		ber.TimeTicks(360000),
		ber.Counter64(18446744073709551615),
	}

	for _, v := range values {
		t.Run(v.Tag().String()+"/"+v.String(), func(t *testing.T) {
			data, err := EncodeValue(v)
			require.NoError(t, err)
			got, err := DecodeValue(data)
			require.NoError(t, err)
			assert.Equal(t, v, got)
		})
	}
}

func TestValueRecordsRejectUnsupported(t *testing.T) {
	_, err := EncodeValue(ber.Null{})
	assert.Error(t, err)

	_, err = DecodeValue([]byte{0xff})
	assert.Error(t, err)

	data, err := recordEncMode.Marshal(record{Tag: uint8(ber.TagCounter32), Uint: 1 << 40})
	require.NoError(t, err)
	_, err = DecodeValue(data)
	assert.Error(t, err)
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, ":memory:")

	_, err := s.Get(ctx, ".1.3.6.1.2.1.1.5.0")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Put(ctx, ".1.3.6.1.2.1.1.5.0", []byte{1}))
	require.NoError(t, s.Put(ctx, ".1.3.6.1.2.1.1.5.0", []byte{2}))

	got, err := s.Get(ctx, ".1.3.6.1.2.1.1.5.0")
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, got.Value)
	assert.False(t, got.UpdatedAt.IsZero())

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Delete(ctx, ".1.3.6.1.2.1.1.5.0"))
	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSaveAndRestoreAcrossRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "values.db")

	build := func(name []byte, ratio int32, hits uint32) (*registry.Registry, *[]byte, *int32, *uint32) {
		reg, err := registry.New("")
		require.NoError(t, err)
		n := append(make([]byte, 0, 16), name...)
		r := ratio
		h := hits
		require.NoError(t, reg.Add(&registry.Registration{OID: ".1.3.6.1.2.1.1.5.0", Settable: true, Accessor: registry.OctetString{Ptr: &n}}))
		require.NoError(t, reg.Add(&registry.Registration{OID: ".1.3.6.1.4.1.99999.1", Settable: true, Accessor: registry.FixedPoint{Ptr: &r}}))
		require.NoError(t, reg.Add(&registry.Registration{OID: ".1.3.6.1.4.1.99999.2", Accessor: registry.Counter32{Ptr: &h}}))
		return reg, &n, &r, &h
	}

	reg, _, _, _ := build([]byte("edge-7"), 45, 99)
	s := newTestStorage(t, path)
	saved, err := s.SaveSettable(ctx, reg.All())
	require.NoError(t, err)
	assert.Equal(t, 2, saved, "read-only objects are not persisted")
	require.NoError(t, s.Close())

	reg, name, ratio, hits := build([]byte("default"), 0, 0)
	s = newTestStorage(t, path)
	restored, err := s.Restore(ctx, reg.All())
	require.NoError(t, err)
	assert.Equal(t, 2, restored)
	assert.Equal(t, []byte("edge-7"), *name)
	assert.Equal(t, int32(45), *ratio)
	assert.Equal(t, uint32(0), *hits)
}

func TestFixedPointSurvivesRepeatedSaveAndRestore(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, ":memory:")

	ratio := int32(25)
	acc := registry.FixedPoint{Ptr: &ratio}
	reg, err := registry.New("")
	require.NoError(t, err)
	require.NoError(t, reg.Add(&registry.Registration{OID: ".1.3.6.1.4.1.99999.1", Settable: true, Accessor: acc}))

	for i := 0; i < 3; i++ {
		_, err := s.SaveSettable(ctx, reg.All())
		require.NoError(t, err)
		ratio = 0
		restored, err := s.Restore(ctx, reg.All())
		require.NoError(t, err)
		assert.Equal(t, 1, restored)
		assert.Equal(t, ber.Integer(25), acc.Load(), "round %d", i)
	}

	// a Set still drops the fractional digit
	require.NoError(t, acc.Store(ber.Integer(37)))
	_, err = s.SaveSettable(ctx, reg.All())
	require.NoError(t, err)
	ratio = 0
	_, err = s.Restore(ctx, reg.All())
	require.NoError(t, err)
	assert.Equal(t, int32(30), ratio)
}

func TestRestoreSkipsIncompatibleRecords(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, ":memory:")

	record, err := EncodeValue(ber.Integer(5))
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, ".1.3.6.1.4.1.99999.1", record))

	long, err := EncodeValue(ber.OctetString("far too long for it"))
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, ".1.3.6.1.4.1.99999.2", long))

	require.NoError(t, s.Put(ctx, ".1.3.6.1.4.1.99999.3", []byte{0xff}))

	str := append(make([]byte, 0, 4), "ab"...)
	small := append(make([]byte, 0, 4), "cd"...)
	other := append(make([]byte, 0, 4), "ef"...)
	reg, err := registry.New("")
	require.NoError(t, err)
	require.NoError(t, reg.Add(&registry.Registration{OID: ".1.3.6.1.4.1.99999.1", Settable: true, Accessor: registry.OctetString{Ptr: &str}}))
	require.NoError(t, reg.Add(&registry.Registration{OID: ".1.3.6.1.4.1.99999.2", Settable: true, Accessor: registry.OctetString{Ptr: &small}}))
	require.NoError(t, reg.Add(&registry.Registration{OID: ".1.3.6.1.4.1.99999.3", Settable: true, Accessor: registry.OctetString{Ptr: &other}}))

	restored, err := s.Restore(ctx, reg.All())
	require.NoError(t, err)
	assert.Equal(t, 0, restored)
	assert.Equal(t, []byte("ab"), str)
	assert.Equal(t, []byte("cd"), small)
	assert.Equal(t, []byte("ef"), other)
}
