package sparkplug

import "github.com/amineamaach/edgeTranslator-SpB/internal/model"

// Node is the Sparkplug face the devices and the translator consume. The
// node owns the broker session, sequence numbers and alias allocation; it
// must serialise publishes internally.
type Node interface {
	// PublishDBirth announces the device's full metric schema and returns
	// the aliases allocated for the metrics, in order.
	PublishDBirth(deviceId string, metrics []*model.Metric) ([]uint64, error)
	// PublishDData publishes value updates for the changed metrics only.
	PublishDData(deviceId string, metrics []*model.Metric) error
	// PublishDDeath reports the device gone.
	PublishDDeath(deviceId string) error
	Stop()
}

// Handlers are the node's inbound events: rebirth requests for one device or
// all, device commands, and the node's own stop (fired from Stop).
type Handlers struct {
	OnDBirth    func(deviceId string)
	OnDBirthAll func()
	OnDCmd      func(deviceId string, payload *Payload)
	OnStop      func()
}
