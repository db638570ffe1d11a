// Package sparkplug implements the northbound Sparkplug B face of the
// translator: topic construction, payload encoding and decoding on the wire,
// and the edge-of-network node that owns the broker session.
package sparkplug

// Sparkplug B message types.
const (
	NodeBirth     = "NBIRTH"
	NodeDeath     = "NDEATH"
	NodeData      = "NDATA"
	NodeCommand   = "NCMD"
	DeviceBirth   = "DBIRTH"
	DeviceDeath   = "DDEATH"
	DeviceData    = "DDATA"
	DeviceCommand = "DCMD"
	StateMessage  = "STATE"
)

// Namespace is the Sparkplug B topic namespace element.
const Namespace = "spBv1.0"

type Topic struct {
	Namespace   string
	GroupId     string
	MessageType string
	EdgeNodeId  string
	DeviceId    string
}

func (t Topic) String() string {
	s := t.Namespace + "/" + t.GroupId + "/" + t.MessageType + "/" + t.EdgeNodeId
	if t.DeviceId != "" {
		s += "/" + t.DeviceId
	}
	return s
}
