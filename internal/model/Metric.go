package model

import (
	"strings"
	"time"
)

// PayloadFormat selects how a driver's raw payload is decoded into metric
// values, and how outbound writes are encoded.
type PayloadFormat string

const (
	FormatDelimited        PayloadFormat = "delimited"
	FormatJSON             PayloadFormat = "JSON"
	FormatXML              PayloadFormat = "XML"
	FormatBuffer           PayloadFormat = "fixedBuffer"
	FormatSerialisedBuffer PayloadFormat = "serialisedBuffer"
)

// Endianness of a value inside a fixed binary buffer. The values follow the
// conventional byte-order notation: 1234 little, 4321 big, 3412 PDP
// (big-endian with a 16-bit word swap).
type Endianness int

const (
	LittleEndian Endianness = 1234
	PDPEndian    Endianness = 3412
	BigEndian    Endianness = 4321
)

// PropertyValue is a typed sub-metric value inside a property set.
type PropertyValue struct {
	Type   DataType `json:"type,omitempty"`
	Value  any      `json:"value,omitempty"`
	IsNull bool     `json:"is_null,omitempty"`
}

// Properties holds the recognised per-metric properties as a fixed record.
// Anything a config source declares beyond the recognised set lands in Extra
// and is passed through to the northbound payload untouched.
type Properties struct {
	// Method gates reads: only metrics whose method starts with GET
	// participate in reads, everything else is a write-only target.
	Method string `json:"method,omitempty"`
	// Address is the native device-side locator (PLC register, OPC UA node
	// id, HTTP path, MQTT topic).
	Address string `json:"address,omitempty"`
	// Path selects within the payload returned for Address: a JSONPath, an
	// XPath, a delimited field index, or a byte offset.
	Path string `json:"path,omitempty"`

	FriendlyName  string `json:"friendlyName,omitempty"`
	Tooltip       string `json:"tooltip,omitempty"`
	Documentation string `json:"documentation,omitempty"`
	EngUnit       string `json:"engUnit,omitempty"`
	EngLow        float64 `json:"engLow,omitempty"`
	EngHigh       float64 `json:"engHigh,omitempty"`

	// Deadband is preserved and republished but not enforced numerically;
	// its intended semantics (absolute, percent or timed) are unspecified.
	Deadband float64 `json:"deadband,omitempty"`

	// Endianness applies to fixedBuffer payloads only.
	Endianness Endianness `json:"endianness,omitempty"`

	Extra map[string]PropertyValue `json:"extra,omitempty"`
}

// Readable reports whether the metric participates in reads.
func (p *Properties) Readable() bool {
	return strings.HasPrefix(p.Method, "GET")
}

// Metric is the atomic unit of the translator: one addressable value on one
// device, mirrored northbound as a Sparkplug B metric.
type Metric struct {
	Name        string     `json:"name,omitempty"`
	Alias       uint64     `json:"alias,omitempty"`
	Type        DataType   `json:"type,omitempty"`
	Value       any        `json:"value,omitempty"`
	Timestamp   time.Time  `json:"timestamp,omitempty"`
	IsNull      bool       `json:"is_null,omitempty"`
	IsTransient bool       `json:"is_transient,omitempty"`
	Properties  Properties `json:"properties,omitempty"`
}

func NewMetric(name string, dataType DataType, value any) *Metric {
	return &Metric{
		Name:   name,
		Type:   dataType,
		Value:  value,
		IsNull: value == nil,
	}
}

// SetValue writes value, timestamp and isNull together. A zero ts means "now".
func (m *Metric) SetValue(value any, ts time.Time) *Metric {
	if ts.IsZero() {
		ts = time.Now()
	}
	m.Value = value
	m.Timestamp = ts
	m.IsNull = value == nil
	return m
}

// DataSet is the decoded representation of a dataSet-typed metric value.
type DataSet struct {
	Columns []string   `json:"columns,omitempty"`
	Types   []DataType `json:"types,omitempty"`
	Rows    [][]any    `json:"rows,omitempty"`
}
