package config

import (
	"testing"

	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocument() *Document {
	return &Document{
		Sparkplug: Sparkplug{GroupId: "Factory", EdgeNode: "Cell1"},
		DeviceConnections: []ConnectionEntry{
			{
				ConnType:      "REST",
				PollInt:       2000,
				PayloadFormat: "JSON",
				Delimiter:     ",",
				RESTConnDetails: &RESTConnDetails{
					BaseURL: "http://device.local",
				},
				Devices: []DeviceEntry{
					{
						DeviceId: "press01",
						Tags: []Tag{
							{
								Name:       "Line/Speed",
								Type:       "uInt32BE",
								Method:     "GET",
								Address:    "status",
								Path:       "$.speed",
								EngUnit:    "rpm",
								EngLow:     0,
								EngHigh:    3000,
								DeadBand:   1.5,
								Tooltip:    "spindle speed",
								Docs:       "line speed from the press controller",
								RecordToDB: true,
							},
							{
								Name:    "Line/Setpoint",
								Type:    "int16LE",
								Method:  "POST",
								Address: "setpoint",
							},
						},
					},
					{
						DeviceId: "press02",
						PollInt:  500,
						Tags:     []Tag{},
					},
				},
			},
		},
	}
}

func TestRehashCopiesConnectionDefaultsDown(t *testing.T) {
	specs := Rehash(sampleDocument())
	require.Len(t, specs, 1)
	require.Len(t, specs[0].Devices, 2)

	d1 := specs[0].Devices[0]
	assert.Equal(t, 2000, d1.PollInt)
	assert.Equal(t, model.FormatJSON, d1.PayloadFormat)
	assert.Equal(t, ",", d1.Delimiter)

	// Device-level pollInt wins over the connection's.
	d2 := specs[0].Devices[1]
	assert.Equal(t, 500, d2.PollInt)
}

func TestRehashTagToMetric(t *testing.T) {
	specs := Rehash(sampleDocument())
	metrics := specs[0].Devices[0].Metrics
	require.Len(t, metrics, 2)

	speed := metrics[0]
	assert.Equal(t, "Line/Speed", speed.Name)
	// The BE suffix selects endianness and is stripped from the type.
	assert.Equal(t, model.DataTypeUInt32, speed.Type)
	assert.Equal(t, model.BigEndian, speed.Properties.Endianness)
	assert.Equal(t, "GET", speed.Properties.Method)
	assert.Equal(t, "status", speed.Properties.Address)
	assert.Equal(t, "$.speed", speed.Properties.Path)
	assert.Equal(t, "rpm", speed.Properties.EngUnit)
	assert.Equal(t, float64(3000), speed.Properties.EngHigh)
	assert.Equal(t, 1.5, speed.Properties.Deadband)
	assert.Equal(t, "line speed from the press controller", speed.Properties.Documentation)
	assert.False(t, speed.IsTransient, "recordToDB negates isTransient")

	setpoint := metrics[1]
	assert.Equal(t, model.DataTypeInt16, setpoint.Type)
	assert.Equal(t, model.LittleEndian, setpoint.Properties.Endianness)
	assert.True(t, setpoint.IsTransient)
	assert.False(t, setpoint.Properties.Readable())
}

func TestRehashDefaultPollInt(t *testing.T) {
	doc := sampleDocument()
	doc.DeviceConnections[0].PollInt = 0
	doc.DeviceConnections[0].Devices[0].PollInt = 0
	specs := Rehash(doc)
	assert.Equal(t, defaultPollIntMs, specs[0].Devices[0].PollInt)
}

func TestDocumentValid(t *testing.T) {
	assert.True(t, sampleDocument().Valid())
	assert.False(t, (*Document)(nil).Valid())
	doc := sampleDocument()
	doc.Sparkplug.GroupId = ""
	assert.False(t, doc.Valid())
	doc = sampleDocument()
	doc.DeviceConnections = nil
	assert.False(t, doc.Valid())
}
