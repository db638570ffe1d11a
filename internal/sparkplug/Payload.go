package sparkplug

import (
	"math"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Payload is the in-memory form of a Sparkplug B payload frame.
type Payload struct {
	Timestamp time.Time
	Metrics   []*model.Metric
	Seq       uint64
	HasSeq    bool
	UUID      string
	Body      []byte
}

var (
	ErrMetricValueIsNull   = errors.New("metric value is null")
	ErrUnsupportedDataType = errors.New("unsupported data type")
	ErrMalformedPayload    = errors.New("malformed sparkplug payload")
)

// Sparkplug B protobuf field numbers.
const (
	fPayloadTimestamp = 1
	fPayloadMetrics   = 2
	fPayloadSeq       = 3
	fPayloadUUID      = 4
	fPayloadBody      = 5

	fMetricName         = 1
	fMetricAlias        = 2
	fMetricTimestamp    = 3
	fMetricDatatype     = 4
	fMetricIsHistorical = 5
	fMetricIsTransient  = 6
	fMetricIsNull       = 7
	fMetricProperties   = 9
	fMetricIntValue     = 10
	fMetricLongValue    = 11
	fMetricFloatValue   = 12
	fMetricDoubleValue  = 13
	fMetricBoolValue    = 14
	fMetricStringValue  = 15
	fMetricBytesValue   = 16
	fMetricDataSetValue = 17

	fPropSetKeys   = 1
	fPropSetValues = 2

	fPropValType   = 1
	fPropValIsNull = 2
	fPropValInt    = 3
	fPropValLong   = 4
	fPropValFloat  = 5
	fPropValDouble = 6
	fPropValBool   = 7
	fPropValString = 8

	fDataSetNumCols = 1
	fDataSetColumns = 2
	fDataSetTypes   = 3
	fDataSetRows    = 4

	fRowElements = 1

	fDSValInt    = 1
	fDSValLong   = 2
	fDSValFloat  = 3
	fDSValDouble = 4
	fDSValBool   = 5
	fDSValString = 6
)

func appendBool(b []byte, field protowire.Number, v bool) []byte {
	b = protowire.AppendTag(b, field, protowire.VarintType)
	if v {
		return protowire.AppendVarint(b, 1)
	}
	return protowire.AppendVarint(b, 0)
}

func appendVarintField(b []byte, field protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, field, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStringField(b []byte, field protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, field protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// Encode marshals the payload to Sparkplug B protobuf wire format.
func (p *Payload) Encode() ([]byte, error) {
	var b []byte
	if !p.Timestamp.IsZero() {
		b = appendVarintField(b, fPayloadTimestamp, uint64(p.Timestamp.UnixMilli()))
	}
	for _, m := range p.Metrics {
		mb, err := encodeMetric(m)
		if err != nil {
			return nil, errors.Wrapf(err, "metric %q", m.Name)
		}
		b = appendBytesField(b, fPayloadMetrics, mb)
	}
	if p.HasSeq {
		b = appendVarintField(b, fPayloadSeq, p.Seq)
	}
	if p.UUID != "" {
		b = appendStringField(b, fPayloadUUID, p.UUID)
	}
	if len(p.Body) > 0 {
		b = appendBytesField(b, fPayloadBody, p.Body)
	}
	return b, nil
}

func encodeMetric(m *model.Metric) ([]byte, error) {
	var b []byte
	if m.Name != "" {
		b = appendStringField(b, fMetricName, m.Name)
	}
	if m.Alias != 0 {
		b = appendVarintField(b, fMetricAlias, m.Alias)
	}
	if !m.Timestamp.IsZero() {
		b = appendVarintField(b, fMetricTimestamp, uint64(m.Timestamp.UnixMilli()))
	}
	b = appendVarintField(b, fMetricDatatype, uint64(m.Type))
	b = appendBool(b, fMetricIsTransient, m.IsTransient)
	b = appendBool(b, fMetricIsNull, m.IsNull)
	if props := encodeProperties(&m.Properties); len(props) > 0 {
		b = appendBytesField(b, fMetricProperties, props)
	}
	if m.IsNull {
		return b, nil
	}
	return appendMetricValue(b, m)
}

func appendMetricValue(b []byte, m *model.Metric) ([]byte, error) {
	if m.Value == nil {
		return nil, ErrMetricValueIsNull
	}
	switch m.Type {
	case model.DataTypeInt8:
		v, _ := m.Value.(int8)
		return appendVarintField(b, fMetricIntValue, uint64(uint32(int32(v)))), nil
	case model.DataTypeInt16:
		v, _ := m.Value.(int16)
		return appendVarintField(b, fMetricIntValue, uint64(uint32(int32(v)))), nil
	case model.DataTypeInt32:
		v, _ := m.Value.(int32)
		return appendVarintField(b, fMetricIntValue, uint64(uint32(v))), nil
	case model.DataTypeUInt8:
		v, _ := m.Value.(uint8)
		return appendVarintField(b, fMetricIntValue, uint64(v)), nil
	case model.DataTypeUInt16:
		v, _ := m.Value.(uint16)
		return appendVarintField(b, fMetricIntValue, uint64(v)), nil
	case model.DataTypeUInt32:
		v, _ := m.Value.(uint32)
		return appendVarintField(b, fMetricLongValue, uint64(v)), nil
	case model.DataTypeInt64:
		v, _ := m.Value.(int64)
		return appendVarintField(b, fMetricLongValue, uint64(v)), nil
	case model.DataTypeUInt64:
		v, _ := m.Value.(uint64)
		return appendVarintField(b, fMetricLongValue, v), nil
	case model.DataTypeDateTime:
		v, _ := m.Value.(time.Time)
		return appendVarintField(b, fMetricLongValue, uint64(v.UnixMilli())), nil
	case model.DataTypeFloat:
		v, _ := m.Value.(float32)
		b = protowire.AppendTag(b, fMetricFloatValue, protowire.Fixed32Type)
		return protowire.AppendFixed32(b, math.Float32bits(v)), nil
	case model.DataTypeDouble:
		v, _ := m.Value.(float64)
		b = protowire.AppendTag(b, fMetricDoubleValue, protowire.Fixed64Type)
		return protowire.AppendFixed64(b, math.Float64bits(v)), nil
	case model.DataTypeBoolean:
		v, _ := m.Value.(bool)
		return appendBool(b, fMetricBoolValue, v), nil
	case model.DataTypeString, model.DataTypeText, model.DataTypeUUID:
		v, _ := m.Value.(string)
		return appendStringField(b, fMetricStringValue, v), nil
	case model.DataTypeBytes, model.DataTypeFile:
		v, _ := m.Value.([]byte)
		return appendBytesField(b, fMetricBytesValue, v), nil
	case model.DataTypeDataSet:
		ds, ok := m.Value.(*model.DataSet)
		if !ok {
			return nil, errors.Wrapf(ErrUnsupportedDataType, "dataSet metric holds %T", m.Value)
		}
		return appendBytesField(b, fMetricDataSetValue, encodeDataSet(ds)), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedDataType, "%s", m.Type)
	}
}

func encodeProperties(p *model.Properties) []byte {
	keys := make([]string, 0, 8)
	vals := make([]model.PropertyValue, 0, 8)
	addString := func(k, v string) {
		if v != "" {
			keys = append(keys, k)
			vals = append(vals, model.PropertyValue{Type: model.DataTypeString, Value: v})
		}
	}
	addDouble := func(k string, v float64) {
		if v != 0 {
			keys = append(keys, k)
			vals = append(vals, model.PropertyValue{Type: model.DataTypeDouble, Value: v})
		}
	}
	addString("method", p.Method)
	addString("address", p.Address)
	addString("path", p.Path)
	addString("friendlyName", p.FriendlyName)
	addString("tooltip", p.Tooltip)
	addString("documentation", p.Documentation)
	addString("engUnit", p.EngUnit)
	addDouble("engLow", p.EngLow)
	addDouble("engHigh", p.EngHigh)
	addDouble("deadband", p.Deadband)
	if p.Endianness != 0 {
		keys = append(keys, "endianness")
		vals = append(vals, model.PropertyValue{Type: model.DataTypeInt32, Value: int32(p.Endianness)})
	}
	for k, v := range p.Extra {
		keys = append(keys, k)
		vals = append(vals, v)
	}
	if len(keys) == 0 {
		return nil
	}

	var b []byte
	for _, k := range keys {
		b = appendStringField(b, fPropSetKeys, k)
	}
	for _, v := range vals {
		b = appendBytesField(b, fPropSetValues, encodePropertyValue(v))
	}
	return b
}

func encodePropertyValue(v model.PropertyValue) []byte {
	var b []byte
	b = appendVarintField(b, fPropValType, uint64(v.Type))
	b = appendBool(b, fPropValIsNull, v.IsNull)
	if v.IsNull || v.Value == nil {
		return b
	}
	switch v.Type {
	case model.DataTypeBoolean:
		val, _ := v.Value.(bool)
		b = appendBool(b, fPropValBool, val)
	case model.DataTypeFloat:
		val, _ := v.Value.(float32)
		b = protowire.AppendTag(b, fPropValFloat, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(val))
	case model.DataTypeDouble:
		val, _ := v.Value.(float64)
		b = protowire.AppendTag(b, fPropValDouble, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(val))
	case model.DataTypeInt32:
		val, _ := v.Value.(int32)
		b = appendVarintField(b, fPropValInt, uint64(uint32(val)))
	case model.DataTypeUInt32:
		val, _ := v.Value.(uint32)
		b = appendVarintField(b, fPropValInt, uint64(val))
	case model.DataTypeInt64:
		val, _ := v.Value.(int64)
		b = appendVarintField(b, fPropValLong, uint64(val))
	case model.DataTypeUInt64:
		val, _ := v.Value.(uint64)
		b = appendVarintField(b, fPropValLong, val)
	default:
		val, _ := v.Value.(string)
		b = appendStringField(b, fPropValString, val)
	}
	return b
}

func encodeDataSet(ds *model.DataSet) []byte {
	var b []byte
	b = appendVarintField(b, fDataSetNumCols, uint64(len(ds.Columns)))
	for _, c := range ds.Columns {
		b = appendStringField(b, fDataSetColumns, c)
	}
	for _, t := range ds.Types {
		b = appendVarintField(b, fDataSetTypes, uint64(t))
	}
	for _, row := range ds.Rows {
		var rb []byte
		for i, cell := range row {
			t := model.DataTypeString
			if i < len(ds.Types) {
				t = ds.Types[i]
			}
			rb = appendBytesField(rb, fRowElements, encodeDataSetValue(cell, t))
		}
		b = appendBytesField(b, fDataSetRows, rb)
	}
	return b
}

func encodeDataSetValue(cell any, t model.DataType) []byte {
	var b []byte
	switch t {
	case model.DataTypeBoolean:
		v, _ := cell.(bool)
		b = appendBool(b, fDSValBool, v)
	case model.DataTypeFloat:
		v, _ := cell.(float32)
		b = protowire.AppendTag(b, fDSValFloat, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(v))
	case model.DataTypeDouble:
		v, _ := cell.(float64)
		b = protowire.AppendTag(b, fDSValDouble, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	case model.DataTypeInt8, model.DataTypeInt16, model.DataTypeInt32,
		model.DataTypeUInt8, model.DataTypeUInt16:
		var n int64
		switch v := cell.(type) {
		case int8:
			n = int64(v)
		case int16:
			n = int64(v)
		case int32:
			n = int64(v)
		case uint8:
			n = int64(v)
		case uint16:
			n = int64(v)
		}
		b = appendVarintField(b, fDSValInt, uint64(uint32(int32(n))))
	case model.DataTypeInt64, model.DataTypeUInt64, model.DataTypeUInt32:
		var n uint64
		switch v := cell.(type) {
		case int64:
			n = uint64(v)
		case uint64:
			n = v
		case uint32:
			n = uint64(v)
		}
		b = appendVarintField(b, fDSValLong, n)
	default:
		s, _ := cell.(string)
		b = appendStringField(b, fDSValString, s)
	}
	return b
}

// Decode unmarshals a Sparkplug B payload. Metric values come back in the
// native Go representation of their declared datatype; command payloads are
// the primary consumer.
func Decode(data []byte) (*Payload, error) {
	p := &Payload{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, ErrMalformedPayload
		}
		data = data[n:]
		switch num {
		case fPayloadTimestamp:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, ErrMalformedPayload
			}
			p.Timestamp = time.UnixMilli(int64(v))
			data = data[n:]
		case fPayloadMetrics:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, ErrMalformedPayload
			}
			m, err := decodeMetric(v)
			if err != nil {
				return nil, err
			}
			p.Metrics = append(p.Metrics, m)
			data = data[n:]
		case fPayloadSeq:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, ErrMalformedPayload
			}
			p.Seq, p.HasSeq = v, true
			data = data[n:]
		case fPayloadUUID:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, ErrMalformedPayload
			}
			p.UUID = string(v)
			data = data[n:]
		case fPayloadBody:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, ErrMalformedPayload
			}
			p.Body = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, ErrMalformedPayload
			}
			data = data[n:]
		}
	}
	return p, nil
}

func decodeMetric(data []byte) (*model.Metric, error) {
	m := &model.Metric{}
	var intVal, longVal uint64
	var floatVal uint32
	var doubleVal uint64
	var boolVal, hasInt, hasLong, hasFloat, hasDouble, hasBool bool
	var strVal string
	var hasStr bool
	var bytesVal []byte

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, ErrMalformedPayload
		}
		data = data[n:]
		switch num {
		case fMetricName:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, ErrMalformedPayload
			}
			m.Name = string(v)
			data = data[n:]
		case fMetricAlias:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, ErrMalformedPayload
			}
			m.Alias = v
			data = data[n:]
		case fMetricTimestamp:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, ErrMalformedPayload
			}
			m.Timestamp = time.UnixMilli(int64(v))
			data = data[n:]
		case fMetricDatatype:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, ErrMalformedPayload
			}
			m.Type = model.DataType(v)
			data = data[n:]
		case fMetricIsTransient:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, ErrMalformedPayload
			}
			m.IsTransient = v != 0
			data = data[n:]
		case fMetricIsNull:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, ErrMalformedPayload
			}
			m.IsNull = v != 0
			data = data[n:]
		case fMetricIntValue:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, ErrMalformedPayload
			}
			intVal, hasInt = v, true
			data = data[n:]
		case fMetricLongValue:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, ErrMalformedPayload
			}
			longVal, hasLong = v, true
			data = data[n:]
		case fMetricFloatValue:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return nil, ErrMalformedPayload
			}
			floatVal, hasFloat = v, true
			data = data[n:]
		case fMetricDoubleValue:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return nil, ErrMalformedPayload
			}
			doubleVal, hasDouble = v, true
			data = data[n:]
		case fMetricBoolValue:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, ErrMalformedPayload
			}
			boolVal, hasBool = v != 0, true
			data = data[n:]
		case fMetricStringValue:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, ErrMalformedPayload
			}
			strVal, hasStr = string(v), true
			data = data[n:]
		case fMetricBytesValue:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, ErrMalformedPayload
			}
			bytesVal = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, ErrMalformedPayload
			}
			data = data[n:]
		}
	}

	if m.IsNull {
		return m, nil
	}
	switch m.Type {
	case model.DataTypeInt8:
		if hasInt {
			m.Value = int8(int32(uint32(intVal)))
		}
	case model.DataTypeInt16:
		if hasInt {
			m.Value = int16(int32(uint32(intVal)))
		}
	case model.DataTypeInt32:
		if hasInt {
			m.Value = int32(uint32(intVal))
		}
	case model.DataTypeUInt8:
		if hasInt {
			m.Value = uint8(intVal)
		}
	case model.DataTypeUInt16:
		if hasInt {
			m.Value = uint16(intVal)
		}
	case model.DataTypeUInt32:
		if hasLong {
			m.Value = uint32(longVal)
		} else if hasInt {
			m.Value = uint32(intVal)
		}
	case model.DataTypeInt64:
		if hasLong {
			m.Value = int64(longVal)
		}
	case model.DataTypeUInt64:
		if hasLong {
			m.Value = longVal
		}
	case model.DataTypeDateTime:
		if hasLong {
			m.Value = time.UnixMilli(int64(longVal))
		}
	case model.DataTypeFloat:
		if hasFloat {
			m.Value = math.Float32frombits(floatVal)
		}
	case model.DataTypeDouble:
		if hasDouble {
			m.Value = math.Float64frombits(doubleVal)
		}
	case model.DataTypeBoolean:
		if hasBool {
			m.Value = boolVal
		}
	case model.DataTypeString, model.DataTypeText, model.DataTypeUUID:
		if hasStr {
			m.Value = strVal
		}
	case model.DataTypeBytes, model.DataTypeFile:
		if bytesVal != nil {
			m.Value = bytesVal
		}
	default:
		// Unknown datatype: surface whichever scalar arrived so command
		// routing can still resolve the metric by name or alias.
		switch {
		case hasLong:
			m.Value = longVal
		case hasInt:
			m.Value = intVal
		case hasDouble:
			m.Value = math.Float64frombits(doubleVal)
		case hasStr:
			m.Value = strVal
		case hasBool:
			m.Value = boolVal
		}
	}
	m.IsNull = m.Value == nil
	return m, nil
}
