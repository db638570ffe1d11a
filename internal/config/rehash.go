package config

import (
	"strings"

	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
)

// DeviceSpec is the internal shape of one logical device: effective polling
// settings plus its metrics, ready for a metric store.
type DeviceSpec struct {
	DeviceId      string
	PollInt       int
	PayloadFormat model.PayloadFormat
	Delimiter     string
	Metrics       []*model.Metric
}

// ConnectionSpec pairs a connection declaration with its rehashed devices.
type ConnectionSpec struct {
	Entry   ConnectionEntry
	Devices []DeviceSpec
}

const defaultPollIntMs = 1000

// Valid reports whether a fetched document is usable: a Sparkplug identity
// and at least one connection entry. The devices under it are not checked.
func (d *Document) Valid() bool {
	if d == nil || d.Sparkplug.GroupId == "" || d.Sparkplug.EdgeNode == "" {
		return false
	}
	return len(d.DeviceConnections) > 0
}

// Rehash normalises the external configuration schema into the internal
// device/metric shape: connection-level pollInt, payloadFormat and delimiter
// are copied down into each device, and every tag becomes a metric.
func Rehash(doc *Document) []ConnectionSpec {
	specs := make([]ConnectionSpec, 0, len(doc.DeviceConnections))
	for _, conn := range doc.DeviceConnections {
		spec := ConnectionSpec{Entry: conn}
		for _, dev := range conn.Devices {
			ds := DeviceSpec{
				DeviceId:      dev.DeviceId,
				PollInt:       dev.PollInt,
				PayloadFormat: model.PayloadFormat(dev.PayloadFormat),
				Delimiter:     dev.Delimiter,
			}
			if ds.PollInt == 0 {
				ds.PollInt = conn.PollInt
			}
			if ds.PollInt == 0 {
				ds.PollInt = defaultPollIntMs
			}
			if ds.PayloadFormat == "" {
				ds.PayloadFormat = model.PayloadFormat(conn.PayloadFormat)
			}
			if ds.Delimiter == "" {
				ds.Delimiter = conn.Delimiter
			}
			for _, tag := range dev.Tags {
				ds.Metrics = append(ds.Metrics, tagToMetric(tag))
			}
			spec.Devices = append(spec.Devices, ds)
		}
		specs = append(specs, spec)
	}
	return specs
}

// tagToMetric converts one declared tag into a metric. A BE or LE suffix on
// the declared type selects the endianness of binary payloads and is
// stripped from the type itself.
func tagToMetric(tag Tag) *model.Metric {
	typeName := tag.Type
	endianness := model.Endianness(0)
	switch {
	case strings.HasSuffix(typeName, "BE"):
		endianness = model.BigEndian
		typeName = strings.TrimSuffix(typeName, "BE")
	case strings.HasSuffix(typeName, "LE"):
		endianness = model.LittleEndian
		typeName = strings.TrimSuffix(typeName, "LE")
	}

	m := model.NewMetric(tag.Name, model.DataTypeFromString(typeName), nil)
	m.IsTransient = !tag.RecordToDB
	m.Properties = model.Properties{
		Method:        tag.Method,
		Address:       tag.Address,
		Path:          tag.Path,
		EngUnit:       tag.EngUnit,
		EngLow:        tag.EngLow,
		EngHigh:       tag.EngHigh,
		Deadband:      tag.DeadBand,
		Tooltip:       tag.Tooltip,
		Documentation: tag.Docs,
		Endianness:    endianness,
	}
	return m
}
