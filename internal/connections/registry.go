package connections

import (
	"github.com/amineamaach/edgeTranslator-SpB/internal/config"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var ErrMissingDetails = errors.New("connection entry lacks its details block")

// Factory builds one driver kind from its connection entry. DetailsKey names
// the details block the entry must carry.
type Factory struct {
	DetailsKey string
	New        func(entry config.ConnectionEntry, log *logrus.Logger) (Connection, error)
}

// Registry maps declared connection types to their driver factories.
// Unknown types are the caller's problem: log and skip.
var Registry = map[string]Factory{
	"REST": {
		DetailsKey: "RESTConnDetails",
		New: func(entry config.ConnectionEntry, log *logrus.Logger) (Connection, error) {
			if entry.RESTConnDetails == nil {
				return nil, errors.Wrap(ErrMissingDetails, "RESTConnDetails")
			}
			return NewRESTConnection(*entry.RESTConnDetails, log), nil
		},
	},
	"MTConnect": {
		DetailsKey: "MTConnectConnDetails",
		New: func(entry config.ConnectionEntry, log *logrus.Logger) (Connection, error) {
			if entry.MTConnectConnDetails == nil {
				return nil, errors.Wrap(ErrMissingDetails, "MTConnectConnDetails")
			}
			return NewMTConnectConnection(*entry.MTConnectConnDetails, log), nil
		},
	},
	"S7": {
		DetailsKey: "s7ConnDetails",
		New: func(entry config.ConnectionEntry, log *logrus.Logger) (Connection, error) {
			if entry.S7ConnDetails == nil {
				return nil, errors.Wrap(ErrMissingDetails, "s7ConnDetails")
			}
			return NewS7Connection(*entry.S7ConnDetails, log), nil
		},
	},
	"OPC UA": {
		DetailsKey: "OPCUAConnDetails",
		New: func(entry config.ConnectionEntry, log *logrus.Logger) (Connection, error) {
			if entry.OPCUAConnDetails == nil {
				return nil, errors.Wrap(ErrMissingDetails, "OPCUAConnDetails")
			}
			return NewOPCUAConnection(*entry.OPCUAConnDetails, log), nil
		},
	},
	"MQTT": {
		DetailsKey: "MQTTConnDetails",
		New: func(entry config.ConnectionEntry, log *logrus.Logger) (Connection, error) {
			if entry.MQTTConnDetails == nil {
				return nil, errors.Wrap(ErrMissingDetails, "MQTTConnDetails")
			}
			return NewMQTTConnection(*entry.MQTTConnDetails, log), nil
		},
	},
	"Websocket": {
		DetailsKey: "WebsocketConnDetails",
		New: func(entry config.ConnectionEntry, log *logrus.Logger) (Connection, error) {
			if entry.WebsocketConnDetails == nil {
				return nil, errors.Wrap(ErrMissingDetails, "WebsocketConnDetails")
			}
			return NewWebsocketConnection(*entry.WebsocketConnDetails, log), nil
		},
	},
	"UDP": {
		DetailsKey: "UDPConnDetails",
		New: func(entry config.ConnectionEntry, log *logrus.Logger) (Connection, error) {
			if entry.UDPConnDetails == nil {
				return nil, errors.Wrap(ErrMissingDetails, "UDPConnDetails")
			}
			return NewUDPConnection(*entry.UDPConnDetails, log), nil
		},
	},
	"ASCIITCP": {
		DetailsKey: "ASCIITCPConnDetails",
		New: func(entry config.ConnectionEntry, log *logrus.Logger) (Connection, error) {
			if entry.ASCIITCPConnDetails == nil {
				return nil, errors.Wrap(ErrMissingDetails, "ASCIITCPConnDetails")
			}
			return NewASCIITCPConnection(*entry.ASCIITCPConnDetails, log), nil
		},
	},
	"OpenProtocol": {
		DetailsKey: "OpenProtocolConnDetails",
		New: func(entry config.ConnectionEntry, log *logrus.Logger) (Connection, error) {
			if entry.OpenProtocolConnDetails == nil {
				return nil, errors.Wrap(ErrMissingDetails, "OpenProtocolConnDetails")
			}
			return NewOpenProtocolConnection(*entry.OpenProtocolConnDetails, log), nil
		},
	},
}
