package codec

import (
	"fmt"
	"testing"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Round trip every primitive type through every endianness: decoding an
// encoded single-metric buffer yields the original value.
func TestBufferRoundTrip(t *testing.T) {
	cases := []struct {
		dataType model.DataType
		path     string
		value    any
	}{
		{model.DataTypeInt8, "0", int8(-5)},
		{model.DataTypeUInt8, "0", uint8(200)},
		{model.DataTypeInt16, "0", int16(-12345)},
		{model.DataTypeUInt16, "0", uint16(54321)},
		{model.DataTypeInt32, "0", int32(-123456789)},
		{model.DataTypeUInt32, "0", uint32(0xDEADBEEF)},
		{model.DataTypeInt64, "0", int64(-1234567890123)},
		{model.DataTypeUInt64, "0", uint64(0xCAFEBABECAFEBABE)},
		{model.DataTypeFloat, "0", float32(3.14159)},
		{model.DataTypeDouble, "0", float64(-2.718281828)},
		{model.DataTypeDateTime, "0", time.UnixMilli(1700000000123)},
		{model.DataTypeBoolean, "0.5", true},
	}
	endians := []model.Endianness{model.LittleEndian, model.BigEndian, model.PDPEndian}

	for _, tc := range cases {
		for _, e := range endians {
			t.Run(fmt.Sprintf("%s_%d", tc.dataType, e), func(t *testing.T) {
				m := metric(tc.dataType, tc.path, e)
				m.Value = tc.value

				encoded, err := Encode([]*model.Metric{m}, model.FormatBuffer, "")
				require.NoError(t, err)
				buf, ok := encoded.([]byte)
				require.True(t, ok)

				decoded, err := ParseValue(buf, m, model.FormatBuffer, "")
				require.NoError(t, err)
				assert.Equal(t, tc.value, decoded)
			})
		}
	}
}

// Two metrics with disjoint JSON paths survive an encode/parse round trip
// independently.
func TestJSONRoundTripDisjointPaths(t *testing.T) {
	m1 := metric(model.DataTypeDouble, "$.motor.speed", 0)
	m1.Value = 1480.5
	m2 := metric(model.DataTypeBoolean, "$.motor.running", 0)
	m2.Value = true

	encoded, err := Encode([]*model.Metric{m1, m2}, model.FormatJSON, "")
	require.NoError(t, err)

	v1, err := ParseValue(encoded, m1, model.FormatJSON, "")
	require.NoError(t, err)
	assert.Equal(t, m1.Value, v1)

	v2, err := ParseValue(encoded, m2, model.FormatJSON, "")
	require.NoError(t, err)
	assert.Equal(t, m2.Value, v2)
}

func TestEncodeDelimited(t *testing.T) {
	m1 := metric(model.DataTypeInt32, "0", 0)
	m1.Value = int32(7)
	m2 := metric(model.DataTypeString, "1", 0)
	m2.Value = "run"

	encoded, err := Encode([]*model.Metric{m1, m2}, model.FormatDelimited, ";")
	require.NoError(t, err)
	assert.Equal(t, "7;run", encoded)
}

func TestEncodeMultiFieldBuffer(t *testing.T) {
	m1 := metric(model.DataTypeUInt16, "0", model.BigEndian)
	m1.Value = uint16(0x0102)
	m2 := metric(model.DataTypeUInt16, "2", model.LittleEndian)
	m2.Value = uint16(0x0304)

	encoded, err := Encode([]*model.Metric{m1, m2}, model.FormatBuffer, "")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x04, 0x03}, encoded)
}

// XML and serialisedBuffer writes are not implemented: empty plus a warning
// error the caller logs.
func TestEncodeUnimplementedFormats(t *testing.T) {
	m := metric(model.DataTypeInt32, "0", 0)
	m.Value = int32(1)

	encoded, err := Encode([]*model.Metric{m}, model.FormatXML, "")
	assert.ErrorIs(t, err, ErrFormatNotSupported)
	assert.Equal(t, "", encoded)

	encoded, err = Encode([]*model.Metric{m}, model.FormatSerialisedBuffer, "")
	assert.ErrorIs(t, err, ErrFormatNotSupported)
	assert.Equal(t, "", encoded)
}
