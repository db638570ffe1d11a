package codec

import (
	"strings"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

var (
	ErrUnsupportedDataType = errors.New("unsupported data type")
	ErrFormatNotSupported  = errors.New("payload format not supported")
	ErrBadPath             = errors.New("invalid path for payload format")
)

// falseLiterals are the string forms coerced to boolean false; every other
// string is true.
var falseLiterals = map[string]bool{
	"false": true,
	"no":    true,
	"0":     true,
	"":      true,
}

// Coerce converts a raw decoded value into the native representation of the
// metric's type. Unparseable numerics coerce to nil (treated as a null
// update and filtered out downstream) rather than an error.
func Coerce(value any, t model.DataType) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch t {
	case model.DataTypeBoolean:
		return toBool(value), nil
	case model.DataTypeInt8:
		return nilOnErr(cast.ToInt8E(value))
	case model.DataTypeInt16:
		return nilOnErr(cast.ToInt16E(value))
	case model.DataTypeInt32:
		return nilOnErr(cast.ToInt32E(value))
	case model.DataTypeInt64:
		return nilOnErr(cast.ToInt64E(value))
	case model.DataTypeUInt8:
		return nilOnErr(cast.ToUint8E(value))
	case model.DataTypeUInt16:
		return nilOnErr(cast.ToUint16E(value))
	case model.DataTypeUInt32:
		return nilOnErr(cast.ToUint32E(value))
	case model.DataTypeUInt64:
		return nilOnErr(cast.ToUint64E(value))
	case model.DataTypeFloat:
		return nilOnErr(cast.ToFloat32E(value))
	case model.DataTypeDouble:
		return nilOnErr(cast.ToFloat64E(value))
	case model.DataTypeDateTime:
		return toDateTime(value)
	case model.DataTypeString, model.DataTypeText, model.DataTypeUUID:
		return cast.ToStringE(value)
	case model.DataTypeBytes, model.DataTypeFile:
		return toBytes(value), nil
	case model.DataTypeDataSet:
		if ds, ok := value.(*model.DataSet); ok {
			return ds, nil
		}
		return value, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedDataType, "%s", t)
	}
}

// nilOnErr maps numeric parse failures to a null value instead of an error,
// so a garbage field leaves the metric unchanged.
func nilOnErr[T any](v T, err error) (any, error) {
	if err != nil {
		return nil, nil
	}
	return v, nil
}

func toBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return !falseLiterals[strings.ToLower(strings.TrimSpace(v))]
	default:
		f, err := cast.ToFloat64E(value)
		if err != nil {
			s := cast.ToString(value)
			return !falseLiterals[strings.ToLower(strings.TrimSpace(s))]
		}
		return f != 0
	}
}

func toDateTime(value any) (any, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, nil
		}
		return ts, nil
	default:
		// Numeric timestamps are milliseconds since epoch.
		ms, err := cast.ToInt64E(value)
		if err != nil {
			return nil, nil
		}
		return time.UnixMilli(ms), nil
	}
}

func toBytes(value any) []byte {
	switch v := value.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return []byte(cast.ToString(v))
	}
}

// toString renders a driver's raw payload as text for the string-oriented
// formats.
func toString(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return cast.ToString(v)
	}
}
