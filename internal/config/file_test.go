package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteDevicePollInt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.json")
	require.NoError(t, SaveLocal(path, sampleDocument()))

	require.NoError(t, WriteDevicePollInt(path, "press01", 2500))

	doc, err := LoadLocal(path)
	require.NoError(t, err)
	assert.Equal(t, 2500, doc.DeviceConnections[0].Devices[0].PollInt)
	// Sibling entries are untouched.
	assert.Equal(t, 500, doc.DeviceConnections[0].Devices[1].PollInt)
	assert.Equal(t, "http://device.local", doc.DeviceConnections[0].RESTConnDetails.BaseURL)
}

func TestWriteDevicePollIntUnknownDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.json")
	require.NoError(t, SaveLocal(path, sampleDocument()))
	assert.ErrorIs(t, WriteDevicePollInt(path, "nope", 100), ErrNoSuchDevice)
}

func TestLoadLocalMissingFile(t *testing.T) {
	_, err := LoadLocal(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
