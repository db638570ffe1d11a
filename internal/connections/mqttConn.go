package connections

import (
	"sync"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/codec"
	"github.com/amineamaach/edgeTranslator-SpB/internal/config"
	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MQTTConnection speaks MQTT v3.1.1 to a device-side broker. Metric
// addresses are topics; data arrives as retained or live publishes, so the
// subscription is push-based.
type MQTTConnection struct {
	base
	details config.MQTTConnDetails

	clientMu sync.Mutex
	client   mqtt.Client
	topics   map[string][]string // deviceId -> subscribed topics
}

func NewMQTTConnection(details config.MQTTConnDetails, log *logrus.Logger) *MQTTConnection {
	return &MQTTConnection{
		base:    newBase(log),
		details: details,
		topics:  make(map[string][]string),
	}
}

func (c *MQTTConnection) Open() {
	if !c.markOpen() {
		return
	}
	clientId, err := nanoid.New()
	if err != nil {
		c.emitError(errors.Wrap(err, "generate client id"))
		return
	}
	opts := mqtt.NewClientOptions().
		AddBroker(c.details.URL).
		SetClientID("edgeTranslator::" + clientId).
		SetCleanSession(c.details.CleanSession).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(client mqtt.Client) {
			c.log.WithField("Broker", c.details.URL).Infoln("Southbound MQTT connection up ✅")
			c.emitOpen()
		}).
		SetConnectionLostHandler(func(client mqtt.Client, err error) {
			c.log.WithField("Err", err).Warnln("Southbound MQTT connection lost 🔔")
			c.emitClose()
		})
	if c.details.Username != "" {
		opts.SetUsername(c.details.Username).SetPassword(c.details.Password)
	}

	client := mqtt.NewClient(opts)
	c.clientMu.Lock()
	c.client = client
	c.clientMu.Unlock()

	go func() {
		token := client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			c.emitError(errors.Wrapf(err, "MQTT connect %s", c.details.URL))
		}
	}()
}

func (c *MQTTConnection) Close() {
	if !c.markClosed() {
		return
	}
	c.clientMu.Lock()
	client := c.client
	c.client = nil
	c.topics = make(map[string][]string)
	c.clientMu.Unlock()
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
	c.emitClose()
}

// ReadMetrics cannot solicit data from a broker; subscriptions deliver it.
func (c *MQTTConnection) ReadMetrics(metrics []*model.Metric, format model.PayloadFormat, delimiter string) {
	c.log.Debugln("MQTT driver is push-based, one-shot read skipped")
}

func (c *MQTTConnection) WriteMetrics(metrics []*model.Metric, cb func(error), format model.PayloadFormat, delimiter string) {
	c.clientMu.Lock()
	client := c.client
	c.clientMu.Unlock()
	if client == nil || !client.IsConnected() {
		cb(errors.New("MQTT client not connected"))
		return
	}
	go func() {
		for _, m := range metrics {
			payload, err := codec.Encode([]*model.Metric{m}, format, delimiter)
			if err != nil {
				cb(errors.Wrapf(err, "encode %q", m.Name))
				return
			}
			token := client.Publish(m.Properties.Address, 1, false, codecBytes(payload))
			token.Wait()
			if err := token.Error(); err != nil {
				cb(errors.Wrapf(err, "publish %s", m.Properties.Address))
				return
			}
		}
		cb(nil)
	}()
}

// StartSubscription arms the push pipeline: subscribe every readable topic
// and deliver each message as a single-address data event.
func (c *MQTTConnection) StartSubscription(metrics []*model.Metric, format model.PayloadFormat, delimiter string, interval time.Duration, deviceId string, cb func(error)) {
	c.clientMu.Lock()
	client := c.client
	c.clientMu.Unlock()
	if client == nil {
		cb(errors.New("MQTT client not connected"))
		return
	}

	addrs := readableAddresses(metrics)
	for _, topic := range addrs {
		token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			c.emitData(map[string]any{msg.Topic(): msg.Payload()}, true)
		})
		token.Wait()
		if err := token.Error(); err != nil {
			cb(errors.Wrapf(err, "subscribe %s", topic))
			return
		}
	}
	c.clientMu.Lock()
	c.topics[deviceId] = addrs
	c.clientMu.Unlock()
	cb(nil)
}

func (c *MQTTConnection) StopSubscription(deviceId string, cb func(error)) {
	c.clientMu.Lock()
	client := c.client
	topics := c.topics[deviceId]
	delete(c.topics, deviceId)
	c.clientMu.Unlock()
	if client != nil && len(topics) > 0 {
		client.Unsubscribe(topics...)
	}
	cb(nil)
}
