package model

import "strings"

// DataType enumerates the Sparkplug B wire datatypes. The numeric values are
// the ones carried in the payload's datatype field.
type DataType uint32

const (
	DataTypeUnknown         DataType = 0
	DataTypeInt8            DataType = 1
	DataTypeInt16           DataType = 2
	DataTypeInt32           DataType = 3
	DataTypeInt64           DataType = 4
	DataTypeUInt8           DataType = 5
	DataTypeUInt16          DataType = 6
	DataTypeUInt32          DataType = 7
	DataTypeUInt64          DataType = 8
	DataTypeFloat           DataType = 9
	DataTypeDouble          DataType = 10
	DataTypeBoolean         DataType = 11
	DataTypeString          DataType = 12
	DataTypeDateTime        DataType = 13
	DataTypeText            DataType = 14
	DataTypeUUID            DataType = 15
	DataTypeDataSet         DataType = 16
	DataTypeBytes           DataType = 17
	DataTypeFile            DataType = 18
	DataTypeTemplate        DataType = 19
	DataTypePropertySet     DataType = 20
	DataTypePropertySetList DataType = 21
)

var dataTypeNames = map[DataType]string{
	DataTypeUnknown:         "unknown",
	DataTypeInt8:            "int8",
	DataTypeInt16:           "int16",
	DataTypeInt32:           "int32",
	DataTypeInt64:           "int64",
	DataTypeUInt8:           "uInt8",
	DataTypeUInt16:          "uInt16",
	DataTypeUInt32:          "uInt32",
	DataTypeUInt64:          "uInt64",
	DataTypeFloat:           "float",
	DataTypeDouble:          "double",
	DataTypeBoolean:         "boolean",
	DataTypeString:          "string",
	DataTypeDateTime:        "dateTime",
	DataTypeText:            "text",
	DataTypeUUID:            "uuid",
	DataTypeDataSet:         "dataSet",
	DataTypeBytes:           "bytes",
	DataTypeFile:            "file",
	DataTypeTemplate:        "template",
	DataTypePropertySet:     "propertySet",
	DataTypePropertySetList: "propertySetList",
}

var dataTypesByName = func() map[string]DataType {
	m := make(map[string]DataType, len(dataTypeNames))
	for t, n := range dataTypeNames {
		m[strings.ToLower(n)] = t
	}
	return m
}()

func (t DataType) String() string {
	if n, ok := dataTypeNames[t]; ok {
		return n
	}
	return "unknown"
}

// DataTypeFromString resolves a configured type name, case-insensitively.
// Unknown names resolve to DataTypeUnknown.
func DataTypeFromString(name string) DataType {
	if t, ok := dataTypesByName[strings.ToLower(name)]; ok {
		return t
	}
	return DataTypeUnknown
}

// Size returns the fixed byte width of the type inside a binary buffer, or 0
// for variable-width types.
func (t DataType) Size() int {
	switch t {
	case DataTypeInt8, DataTypeUInt8, DataTypeBoolean:
		return 1
	case DataTypeInt16, DataTypeUInt16:
		return 2
	case DataTypeInt32, DataTypeUInt32, DataTypeFloat:
		return 4
	case DataTypeInt64, DataTypeUInt64, DataTypeDouble, DataTypeDateTime:
		return 8
	default:
		return 0
	}
}
