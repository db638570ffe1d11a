package sparkplug

import (
	"testing"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicString(t *testing.T) {
	top := Topic{
		Namespace:   Namespace,
		GroupId:     "Factory",
		MessageType: DeviceData,
		EdgeNodeId:  "Cell1",
		DeviceId:    "press01",
	}
	assert.Equal(t, "spBv1.0/Factory/DDATA/Cell1/press01", top.String())

	top.DeviceId = ""
	top.MessageType = NodeBirth
	assert.Equal(t, "spBv1.0/Factory/NBIRTH/Cell1", top.String())
}

func TestPayloadRoundTripScalars(t *testing.T) {
	cases := []*model.Metric{
		model.NewMetric("i8", model.DataTypeInt8, int8(-3)),
		model.NewMetric("i16", model.DataTypeInt16, int16(-300)),
		model.NewMetric("i32", model.DataTypeInt32, int32(-70000)),
		model.NewMetric("i64", model.DataTypeInt64, int64(-5000000000)),
		model.NewMetric("u8", model.DataTypeUInt8, uint8(250)),
		model.NewMetric("u16", model.DataTypeUInt16, uint16(65000)),
		model.NewMetric("u32", model.DataTypeUInt32, uint32(4000000000)),
		model.NewMetric("u64", model.DataTypeUInt64, uint64(18000000000000000000)),
		model.NewMetric("f", model.DataTypeFloat, float32(1.5)),
		model.NewMetric("d", model.DataTypeDouble, float64(-0.25)),
		model.NewMetric("b", model.DataTypeBoolean, true),
		model.NewMetric("s", model.DataTypeString, "hello"),
		model.NewMetric("dt", model.DataTypeDateTime, time.UnixMilli(1700000000000)),
		model.NewMetric("by", model.DataTypeBytes, []byte{1, 2, 3}),
	}

	for _, m := range cases {
		t.Run(m.Name, func(t *testing.T) {
			in := &Payload{
				Timestamp: time.UnixMilli(1700000000500),
				Metrics:   []*model.Metric{m},
				Seq:       7,
				HasSeq:    true,
			}
			raw, err := in.Encode()
			require.NoError(t, err)

			out, err := Decode(raw)
			require.NoError(t, err)
			assert.Equal(t, uint64(7), out.Seq)
			assert.True(t, out.HasSeq)
			assert.Equal(t, time.UnixMilli(1700000000500), out.Timestamp)
			require.Len(t, out.Metrics, 1)
			assert.Equal(t, m.Name, out.Metrics[0].Name)
			assert.Equal(t, m.Type, out.Metrics[0].Type)
			assert.Equal(t, m.Value, out.Metrics[0].Value)
		})
	}
}

func TestPayloadAliasOnly(t *testing.T) {
	m := model.NewMetric("", model.DataTypeUInt16, uint16(2500))
	m.Alias = 4
	in := &Payload{Metrics: []*model.Metric{m}, Seq: 1, HasSeq: true}
	raw, err := in.Encode()
	require.NoError(t, err)

	out, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, out.Metrics, 1)
	assert.Equal(t, "", out.Metrics[0].Name)
	assert.Equal(t, uint64(4), out.Metrics[0].Alias)
	assert.Equal(t, uint16(2500), out.Metrics[0].Value)
}

func TestPayloadNullMetric(t *testing.T) {
	m := model.NewMetric("gone", model.DataTypeDouble, nil)
	in := &Payload{Metrics: []*model.Metric{m}}
	raw, err := in.Encode()
	require.NoError(t, err)

	out, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, out.Metrics, 1)
	assert.True(t, out.Metrics[0].IsNull)
	assert.Nil(t, out.Metrics[0].Value)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte{0xFF, 0xFF, 0xFF})
	assert.Error(t, err)
}

func TestEncodeCarriesProperties(t *testing.T) {
	m := model.NewMetric("m", model.DataTypeDouble, 1.0)
	m.Properties = model.Properties{
		Method:     "GET",
		Address:    "DB1,W0",
		Path:       "0",
		EngUnit:    "bar",
		Deadband:   0.5,
		Endianness: model.PDPEndian,
	}
	in := &Payload{Metrics: []*model.Metric{m}}
	raw, err := in.Encode()
	require.NoError(t, err)
	// Properties survive on the wire even if the decoder only needs the
	// value side; presence is enough here.
	assert.Greater(t, len(raw), 40)
}
