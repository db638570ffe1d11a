package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// Document is the device-connection configuration schema, shared by the
// config service and the local file.
type Document struct {
	Sparkplug         Sparkplug         `json:"sparkplug"`
	DeviceConnections []ConnectionEntry `json:"deviceConnections"`
}

type Sparkplug struct {
	GroupId     string `json:"groupId"`
	EdgeNode    string `json:"edgeNode"`
	PrimaryHost string `json:"primaryHost,omitempty"`
}

// ConnectionEntry declares one southbound endpoint and its devices. Exactly
// one details block is expected, matching connType.
type ConnectionEntry struct {
	ConnType      string `json:"connType"`
	Name          string `json:"name,omitempty"`
	PollInt       int    `json:"pollInt,omitempty"`
	PayloadFormat string `json:"payloadFormat,omitempty"`
	Delimiter     string `json:"delimiter,omitempty"`

	RESTConnDetails         *RESTConnDetails         `json:"RESTConnDetails,omitempty"`
	MTConnectConnDetails    *MTConnectConnDetails    `json:"MTConnectConnDetails,omitempty"`
	S7ConnDetails           *S7ConnDetails           `json:"s7ConnDetails,omitempty"`
	OPCUAConnDetails        *OPCUAConnDetails        `json:"OPCUAConnDetails,omitempty"`
	MQTTConnDetails         *MQTTConnDetails         `json:"MQTTConnDetails,omitempty"`
	WebsocketConnDetails    *WebsocketConnDetails    `json:"WebsocketConnDetails,omitempty"`
	UDPConnDetails          *UDPConnDetails          `json:"UDPConnDetails,omitempty"`
	ASCIITCPConnDetails     *ASCIITCPConnDetails     `json:"ASCIITCPConnDetails,omitempty"`
	OpenProtocolConnDetails *OpenProtocolConnDetails `json:"OpenProtocolConnDetails,omitempty"`

	Devices []DeviceEntry `json:"devices"`
}

type DeviceEntry struct {
	DeviceId      string `json:"deviceId"`
	PollInt       int    `json:"pollInt,omitempty"`
	PayloadFormat string `json:"payloadFormat,omitempty"`
	Delimiter     string `json:"delimiter,omitempty"`
	Tags          []Tag  `json:"tags"`
}

// Tag is the external declaration of one metric.
type Tag struct {
	Name       string  `json:"Name"`
	Type       string  `json:"type"`
	Method     string  `json:"method"`
	Address    string  `json:"address"`
	Path       string  `json:"path,omitempty"`
	EngUnit    string  `json:"engUnit,omitempty"`
	EngLow     float64 `json:"engLow,omitempty"`
	EngHigh    float64 `json:"engHigh,omitempty"`
	DeadBand   float64 `json:"deadBand,omitempty"`
	Tooltip    string  `json:"tooltip,omitempty"`
	Docs       string  `json:"docs,omitempty"`
	RecordToDB bool    `json:"recordToDB,omitempty"`
}

type RESTConnDetails struct {
	BaseURL string `json:"baseURL"`
	Timeout int    `json:"timeout,omitempty"`
}

type MTConnectConnDetails struct {
	AgentURL string `json:"agentURL"`
	Timeout  int    `json:"timeout,omitempty"`
}

type S7ConnDetails struct {
	Hostname    string `json:"hostname"`
	Port        int    `json:"port,omitempty"`
	Rack        int    `json:"rack"`
	Slot        int    `json:"slot"`
	TimeoutMs   int    `json:"timeout,omitempty"`
	LocalTSAP   int    `json:"localTSAP,omitempty"`
	RemoteTSAP  int    `json:"remoteTSAP,omitempty"`
}

type OPCUAConnDetails struct {
	Endpoint       string `json:"endpoint"`
	SecurityMode   string `json:"securityMode,omitempty"`
	SecurityPolicy string `json:"securityPolicy,omitempty"`
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"`
	CertFile       string `json:"certFile,omitempty"`
	KeyFile        string `json:"keyFile,omitempty"`
	UseCredentials bool   `json:"useCredentials,omitempty"`
}

type MQTTConnDetails struct {
	URL          string `json:"url"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	CleanSession bool   `json:"cleanSession,omitempty"`
}

type WebsocketConnDetails struct {
	URL string `json:"url"`
}

type UDPConnDetails struct {
	Port int `json:"port"`
}

type ASCIITCPConnDetails struct {
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	Delimiter string `json:"delimiter,omitempty"`
}

type OpenProtocolConnDetails struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

var ErrNoSuchDevice = errors.New("no matching device entry")

// fileMu serialises local config-file rewrites.
var fileMu sync.Mutex

// LoadLocal reads the locally persisted device-connection file.
func LoadLocal(path string) (*Document, error) {
	fileMu.Lock()
	defer fileMu.Unlock()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read local config")
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "parse local config")
	}
	return &doc, nil
}

// SaveLocal persists the document to the local file, creating the directory
// if needed.
func SaveLocal(path string, doc *Document) error {
	fileMu.Lock()
	defer fileMu.Unlock()
	return saveLocked(path, doc)
}

func saveLocked(path string, doc *Document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode local config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create config dir")
	}
	return errors.Wrap(os.WriteFile(path, raw, 0o644), "write local config")
}

// WriteDevicePollInt rewrites pollInt under the matching device entry only,
// leaving the rest of the file untouched.
func WriteDevicePollInt(path, deviceId string, pollInt int) error {
	fileMu.Lock()
	defer fileMu.Unlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read local config")
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errors.Wrap(err, "parse local config")
	}

	found := false
	for ci := range doc.DeviceConnections {
		for di := range doc.DeviceConnections[ci].Devices {
			if doc.DeviceConnections[ci].Devices[di].DeviceId == deviceId {
				doc.DeviceConnections[ci].Devices[di].PollInt = pollInt
				found = true
			}
		}
	}
	if !found {
		return errors.Wrapf(ErrNoSuchDevice, "%q", deviceId)
	}
	return saveLocked(path, &doc)
}
