package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeMetric(name, method, addr, path string) *Metric {
	m := NewMetric(name, DataTypeDouble, nil)
	m.Properties.Method = method
	m.Properties.Address = addr
	m.Properties.Path = path
	return m
}

func TestStoreIndices(t *testing.T) {
	s := NewMetricStore(
		storeMetric("a", "GET", "DB1,W0", ""),
		storeMetric("b", "GET", "$.data", "$.temp"),
		storeMetric("c", "GET", "$.data", "$.hum"),
		storeMetric("d", "POST", "cmd", ""),
	)

	assert.Equal(t, 4, s.Len())
	assert.Len(t, s.Array(), 4)

	// Addresses enumerates the (address, path) index: readable only.
	addrs := s.Addresses()
	assert.ElementsMatch(t, []string{"DB1,W0", "$.data"}, addrs)

	// Exactly one metric per (address, path) pair.
	assert.Same(t, s.GetByName("b"), s.GetByAddressPath("$.data", "$.temp"))
	assert.Same(t, s.GetByName("c"), s.GetByAddressPath("$.data", "$.hum"))
	assert.ElementsMatch(t, []string{"$.temp", "$.hum"}, s.PathsForAddress("$.data"))

	// The plain address index includes write-only metrics too.
	assert.Len(t, s.GetByAddress("cmd"), 1)
	assert.Empty(t, s.PathsForAddress("cmd"))
}

func TestStoreSetValueAtomicity(t *testing.T) {
	s := NewMetricStore(storeMetric("a", "GET", "x", ""))

	ts := time.UnixMilli(1700000000000)
	m := s.SetValueByName("a", 42.5, ts)
	require.NotNil(t, m)
	assert.Equal(t, 42.5, m.Value)
	assert.Equal(t, ts, m.Timestamp)
	assert.False(t, m.IsNull)

	// A nil value flips isNull in the same update.
	m = s.SetValueByName("a", nil, time.Time{})
	require.NotNil(t, m)
	assert.True(t, m.IsNull)
	assert.False(t, m.Timestamp.IsZero())

	assert.Nil(t, s.SetValueByName("missing", 1, time.Time{}))
}

func TestStoreAlias(t *testing.T) {
	s := NewMetricStore(
		storeMetric("a", "GET", "x", ""),
		storeMetric("b", "GET", "y", ""),
	)

	assert.Nil(t, s.GetByAlias(7))
	s.SetAlias(1, 7)
	require.NotNil(t, s.GetByAlias(7))
	assert.Equal(t, "b", s.GetByAlias(7).Name)

	m := s.SetValueByAlias(7, 1.25, time.Time{})
	require.NotNil(t, m)
	assert.Equal(t, 1.25, s.GetByName("b").Value)
}

func TestStoreSetValueByAddressPath(t *testing.T) {
	s := NewMetricStore(storeMetric("a", "GET_ONCE", "addr", "$.v"))

	m := s.SetValueByAddressPath("addr", "$.v", int32(5), time.Time{})
	require.NotNil(t, m)
	assert.Equal(t, int32(5), m.Value)
	assert.Nil(t, s.SetValueByAddressPath("addr", "$.other", 1, time.Time{}))
}

func TestStoreAddRebuildsIndices(t *testing.T) {
	s := NewMetricStore(storeMetric("a", "GET", "x", ""))
	s.Add(storeMetric("b", "GET", "y", "$.p"))

	assert.Equal(t, 2, s.Len())
	assert.NotNil(t, s.GetByAddressPath("y", "$.p"))
	assert.ElementsMatch(t, []string{"x", "y"}, s.Addresses())
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, ValuesEqual(int32(5), 5.0))
	assert.True(t, ValuesEqual(uint16(0), 0))
	assert.False(t, ValuesEqual(int32(5), int32(6)))

	// 64-bit integers compare exactly, beyond float64's 53-bit precision.
	assert.False(t, ValuesEqual(uint64(9007199254740993), uint64(9007199254740992)))
	assert.False(t, ValuesEqual(int64(9007199254740993), int64(9007199254740992)))
	assert.True(t, ValuesEqual(uint64(9007199254740993), uint64(9007199254740993)))
	assert.True(t, ValuesEqual(int64(-42), int32(-42)))
	assert.False(t, ValuesEqual(int64(-42), uint64(42)))
	minInt64 := int64(-9223372036854775808)
	assert.True(t, ValuesEqual(minInt64, minInt64))
	assert.False(t, ValuesEqual(minInt64, minInt64+1))
	assert.True(t, ValuesEqual("a", "a"))
	assert.False(t, ValuesEqual("a", "b"))
	assert.True(t, ValuesEqual(true, true))
	assert.False(t, ValuesEqual(true, false))
	assert.False(t, ValuesEqual(nil, 0))
	assert.True(t, ValuesEqual(nil, nil))
	assert.True(t, ValuesEqual([]any{1, 2}, []any{1, 2}))
	assert.False(t, ValuesEqual([]any{1}, []any{2}))
	ts := time.UnixMilli(1000)
	assert.True(t, ValuesEqual(ts, ts))
}
