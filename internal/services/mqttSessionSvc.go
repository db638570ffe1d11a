// Package services wires the translator together: the northbound MQTT
// session and Sparkplug node, the per-device state machines, the external
// identity and config clients, and the supervising translator itself.
package services

import (
	"context"
	"net/url"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/config"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	mqtt "github.com/eclipse/paho.golang/paho"
	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type MqttSessionSvc struct {
	Log         *logrus.Logger
	MqttConfigs config.MQTTConfig
	MqttClient  *autopaho.ConnectionManager
	Router      *paho.StandardRouter
}

func NewMqttSessionSvc(log *logrus.Logger, configs config.MQTTConfig) *MqttSessionSvc {
	return &MqttSessionSvc{
		Log:         log,
		MqttConfigs: configs,
		Router:      paho.NewStandardRouter(),
	}
}

// EstablishMqttSession connects to the northbound broker with the death
// certificate armed as the MQTT will message. onUp runs on every successful
// (re)connection.
func (m *MqttSessionSvc) EstablishMqttSession(
	ctx context.Context,
	willTopic string,
	willPayload []byte,
	onUp func(cm *autopaho.ConnectionManager),
	onDown func(),
) error {
	if m.MqttClient != nil {
		m.Log.Warnln("MQTT session already exists 🔔")
		return nil
	}

	m.Log.Debugln("Setting up an MQTT client options 🔔")

	connectTimeout, err := time.ParseDuration(m.MqttConfigs.ConnectTimeout)
	if err != nil {
		return errors.Wrap(err, "unable to parse connect timeout duration string")
	}

	srvURL, err := url.Parse(m.MqttConfigs.URL)
	if err != nil {
		return errors.Wrapf(err, "unable to parse server URL [%s]", m.MqttConfigs.URL)
	}

	cliId := m.MqttConfigs.ClientID
	if cliId == "" {
		suffix, err := nanoid.New()
		if err != nil {
			return errors.Wrap(err, "unable to auto-generate client id")
		}
		cliId = "EdgeTranslator-SpB::" + suffix
	}

	cliCfg := autopaho.ClientConfig{
		BrokerUrls:        []*url.URL{srvURL},
		KeepAlive:         m.MqttConfigs.KeepAlive,
		ConnectRetryDelay: time.Duration(m.MqttConfigs.ConnectRetry) * time.Second,
		ConnectTimeout:    connectTimeout,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, c *mqtt.Connack) {
			m.Log.Infoln("MQTT connection up ✅")
			if onUp != nil {
				onUp(cm)
			}
		},
		OnConnectError: func(err error) {
			m.Log.Errorf("Error whilst attempting connection %s ⛔\n", err)
			if onDown != nil {
				onDown()
			}
		},
		ClientConfig: paho.ClientConfig{
			ClientID: cliId,
			Router:   m.Router,
			OnClientError: func(err error) {
				m.Log.Errorf("Client error: %s ⛔\n", err)
			},
			OnServerDisconnect: func(d *mqtt.Disconnect) {
				if d.Properties != nil {
					m.Log.Errorf("Server requested disconnect: %s ⛔\n", d.Properties.ReasonString)
				} else {
					m.Log.Errorf("Server requested disconnect; reason code : %d ⛔\n", d.ReasonCode)
				}
				if onDown != nil {
					onDown()
				}
			},
		},
	}

	if m.MqttConfigs.User != "" {
		cliCfg.SetUsernamePassword(m.MqttConfigs.User, []byte(m.MqttConfigs.Password))
	}

	// The death certificate rides as the session will message.
	cliCfg.SetWillMessage(willTopic, willPayload, m.MqttConfigs.QoS, false)

	m.Log.Infof("Trying to establish an MQTT Session to %v 🔔\n", cliCfg.BrokerUrls)
	cm, err := autopaho.NewConnection(ctx, cliCfg)
	if err != nil {
		return errors.Wrap(err, "MQTT connection setup")
	}

	m.MqttClient = cm
	return nil
}

func (m *MqttSessionSvc) Close(ctx context.Context, id string) {
	m.Log.WithField("ClientId", id).Debugln("Closing MQTT connection.. 🔔")
	if m.MqttClient != nil {
		if err := m.MqttClient.Disconnect(ctx); err == nil {
			m.Log.WithField("ClientId", id).Infoln("MQTT connection closed ✅")
		}
	}
}
