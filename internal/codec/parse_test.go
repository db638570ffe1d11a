package codec

import (
	"testing"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metric(t model.DataType, path string, endianness model.Endianness) *model.Metric {
	m := model.NewMetric("m", t, nil)
	m.Properties.Method = "GET"
	m.Properties.Path = path
	m.Properties.Endianness = endianness
	return m
}

func TestParseValueJSONPath(t *testing.T) {
	m := metric(model.DataTypeFloat, "$.sensor.temp", 0)
	v, err := ParseValue(`{"sensor":{"temp":"23.5"}}`, m, model.FormatJSON, "")
	require.NoError(t, err)
	assert.Equal(t, float32(23.5), v)
}

func TestParseValueJSONWholeDocument(t *testing.T) {
	m := metric(model.DataTypeDouble, "", 0)
	v, err := ParseValue([]byte(`42.25`), m, model.FormatJSON, "")
	require.NoError(t, err)
	assert.Equal(t, 42.25, v)
}

func TestParseValueJSONDataSet(t *testing.T) {
	m := metric(model.DataTypeDataSet, "$.rows", 0)
	m.Value = &model.DataSet{
		Columns: []string{"id", "speed"},
		Types:   []model.DataType{model.DataTypeInt32, model.DataTypeDouble},
	}
	v, err := ParseValue(`{"rows":[{"id":1,"speed":12.5},{"id":2,"speed":9.75}]}`, m, model.FormatJSON, "")
	require.NoError(t, err)
	ds, ok := v.(*model.DataSet)
	require.True(t, ok)
	require.Len(t, ds.Rows, 2)
	assert.Equal(t, []any{int32(1), 12.5}, ds.Rows[0])
	assert.Equal(t, []any{int32(2), 9.75}, ds.Rows[1])
}

func TestParseValueDelimited(t *testing.T) {
	m := metric(model.DataTypeInt32, "2", 0)
	v, err := ParseValue("10;20;30", m, model.FormatDelimited, ";")
	require.NoError(t, err)
	assert.Equal(t, int32(30), v)
}

func TestParseValueDelimitedWholePayload(t *testing.T) {
	m := metric(model.DataTypeUInt16, "", 0)
	v, err := ParseValue("1500", m, model.FormatDelimited, "")
	require.NoError(t, err)
	assert.Equal(t, uint16(1500), v)
}

func TestParseValueDelimitedIndexOutOfRange(t *testing.T) {
	m := metric(model.DataTypeInt32, "5", 0)
	_, err := ParseValue("10;20", m, model.FormatDelimited, ";")
	assert.ErrorIs(t, err, ErrFieldIndexOutOfRange)
}

func TestParseValueXML(t *testing.T) {
	m := metric(model.DataTypeDouble, "//Device/Temperature", 0)
	v, err := ParseValue(`<Device><Temperature>18.75</Temperature></Device>`, m, model.FormatXML, "")
	require.NoError(t, err)
	assert.Equal(t, 18.75, v)
}

func TestParseValuePDPBuffer(t *testing.T) {
	m := metric(model.DataTypeUInt32, "0", model.PDPEndian)
	v, err := ParseValue([]byte{0x01, 0x02, 0x03, 0x04}, m, model.FormatBuffer, "")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x03040102), v)

	// 64-bit values swap their two 4-byte halves.
	m = metric(model.DataTypeUInt64, "0", model.PDPEndian)
	v, err = ParseValue([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}, m, model.FormatBuffer, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0506070801020304), v)

	// A single 16-bit word has nothing to swap: PDP reads as big-endian.
	m = metric(model.DataTypeUInt16, "0", model.PDPEndian)
	v, err = ParseValue([]byte{0x01, 0x02}, m, model.FormatBuffer, "")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), v)
}

func TestParseValueBufferBoolean(t *testing.T) {
	m := metric(model.DataTypeBoolean, "1.3", model.BigEndian)
	v, err := ParseValue([]byte{0x00, 0x08}, m, model.FormatBuffer, "")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	// A boolean without a bit offset is rejected.
	m = metric(model.DataTypeBoolean, "1", model.BigEndian)
	_, err = ParseValue([]byte{0x00, 0x08}, m, model.FormatBuffer, "")
	assert.ErrorIs(t, err, ErrNoBitOffset)
}

func TestParseValueBufferOutOfRange(t *testing.T) {
	m := metric(model.DataTypeUInt32, "2", model.BigEndian)
	_, err := ParseValue([]byte{0x01, 0x02, 0x03}, m, model.FormatBuffer, "")
	assert.ErrorIs(t, err, ErrOffsetOutOfRange)
}

func TestParseValueSerialisedBufferReserved(t *testing.T) {
	m := metric(model.DataTypeUInt32, "0", 0)
	v, err := ParseValue([]byte{1, 2, 3, 4}, m, model.FormatSerialisedBuffer, "")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestParseTimestamp(t *testing.T) {
	ts, ok := ParseTimestamp(`{"timestamp":1700000000000,"v":1}`, model.FormatJSON)
	require.True(t, ok)
	assert.Equal(t, time.UnixMilli(1700000000000), ts)

	_, ok = ParseTimestamp(`{"v":1}`, model.FormatJSON)
	assert.False(t, ok)

	_, ok = ParseTimestamp("1;2;3", model.FormatDelimited)
	assert.False(t, ok)
}

func TestCoerceBooleanLiterals(t *testing.T) {
	for _, s := range []string{"false", "no", "0", ""} {
		v, err := Coerce(s, model.DataTypeBoolean)
		require.NoError(t, err)
		assert.Equal(t, false, v, "literal %q", s)
	}
	for _, s := range []string{"true", "yes", "1", "anything"} {
		v, err := Coerce(s, model.DataTypeBoolean)
		require.NoError(t, err)
		assert.Equal(t, true, v, "literal %q", s)
	}
}

func TestCoerceUnparseableNumberIsNull(t *testing.T) {
	v, err := Coerce("not-a-number", model.DataTypeInt32)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = Coerce("NaN-ish", model.DataTypeDouble)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestCoerceDateTime(t *testing.T) {
	v, err := Coerce("2024-05-01T10:30:00Z", model.DataTypeDateTime)
	require.NoError(t, err)
	expected, _ := time.Parse(time.RFC3339, "2024-05-01T10:30:00Z")
	assert.Equal(t, expected, v)

	v, err = Coerce(int64(1700000000000), model.DataTypeDateTime)
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1700000000000), v)
}

func TestOPCUASecurityLookup(t *testing.T) {
	assert.Equal(t, "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256", OPCUASecurityPolicyURI("Basic256Sha256"))
	assert.Equal(t, "Invalid", OPCUASecurityPolicyURI("Bogus"))
}
