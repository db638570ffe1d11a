package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/config"
	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/amineamaach/edgeTranslator-SpB/internal/sparkplug"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/jellydator/ttlcache/v3"
	"github.com/matishsiao/goInfo"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const seqWrap = 256

// bufferedFrame is one DATA frame held for store-and-forward while the
// broker session is down.
type bufferedFrame struct {
	topic   string
	payload []byte
}

// EdgeNodeSvc is the Sparkplug edge-of-network node: it owns the broker
// session, the node-level BIRTH/DEATH lifecycle, sequence numbers and alias
// allocation, and fans inbound commands out to the registered handlers.
type EdgeNodeSvc struct {
	Namespace string
	GroupId   string
	NodeId    string

	log            *logrus.Logger
	SessionHandler *MqttSessionSvc
	ctx            context.Context
	monitor        *Monitor
	handlers       sparkplug.Handlers

	mu           sync.Mutex
	seq          uint64
	bdSeq        uint64
	aliasCounter uint64
	online       bool
	birthed      map[string]bool

	backlog    *ttlcache.Cache[uint64, bufferedFrame]
	backlogKey uint64
}

var _ sparkplug.Node = (*EdgeNodeSvc)(nil)

// NewEdgeNodeInstance sets up the node's broker session with the NDEATH will
// message armed and the command subscriptions registered.
func NewEdgeNodeInstance(
	ctx context.Context,
	groupId, nodeId string,
	handlers sparkplug.Handlers,
	monitor *Monitor,
	log *logrus.Logger,
	mqttConfigs config.MQTTConfig,
) (*EdgeNodeSvc, error) {
	eonNode := &EdgeNodeSvc{
		Namespace: sparkplug.Namespace,
		GroupId:   groupId,
		NodeId:    nodeId,
		log:       log,
		ctx:       ctx,
		monitor:   monitor,
		handlers:  handlers,
		birthed:   make(map[string]bool),
	}

	if ttl := mqttConfigs.StoreForwardTTL; ttl > 0 {
		eonNode.backlog = ttlcache.New[uint64, bufferedFrame](
			ttlcache.WithTTL[uint64, bufferedFrame](time.Duration(ttl) * time.Second),
		)
		go eonNode.backlog.Start()
	}

	session := NewMqttSessionSvc(log, mqttConfigs)

	willTopic := eonNode.topic(sparkplug.NodeDeath, "")
	willPayload, err := eonNode.deathPayload().Encode()
	if err != nil {
		return nil, err
	}

	session.Router.RegisterHandler(eonNode.topic(sparkplug.NodeCommand, ""), eonNode.handleNCmd)
	session.Router.RegisterHandler(eonNode.topic(sparkplug.DeviceCommand, "+"), eonNode.handleDCmd)
	if mqttConfigs.PrimaryHost != "" {
		session.Router.RegisterHandler(sparkplug.StateMessage+"/"+mqttConfigs.PrimaryHost, eonNode.handleState)
	}

	err = session.EstablishMqttSession(ctx, willTopic, willPayload,
		func(cm *autopaho.ConnectionManager) { eonNode.onConnectionUp(cm, mqttConfigs) },
		eonNode.onConnectionDown,
	)
	if err != nil {
		return nil, errors.Wrap(err, "establish MQTT session")
	}
	eonNode.SessionHandler = session
	return eonNode, nil
}

func (e *EdgeNodeSvc) topic(messageType, deviceId string) string {
	return sparkplug.Topic{
		Namespace:   e.Namespace,
		GroupId:     e.GroupId,
		MessageType: messageType,
		EdgeNodeId:  e.NodeId,
		DeviceId:    deviceId,
	}.String()
}

// AwaitConnection blocks until the first broker connection is up.
func (e *EdgeNodeSvc) AwaitConnection(ctx context.Context) error {
	return e.SessionHandler.MqttClient.AwaitConnection(ctx)
}

func (e *EdgeNodeSvc) onConnectionUp(cm *autopaho.ConnectionManager, cfg config.MQTTConfig) {
	subs := map[string]paho.SubscribeOptions{
		e.topic(sparkplug.NodeCommand, ""):    {QoS: cfg.QoS},
		e.topic(sparkplug.DeviceCommand, "+"): {QoS: cfg.QoS},
	}
	if cfg.PrimaryHost != "" {
		subs[sparkplug.StateMessage+"/"+cfg.PrimaryHost] = paho.SubscribeOptions{QoS: 1}
	}
	if _, err := cm.Subscribe(e.ctx, &paho.Subscribe{Subscriptions: subs}); err != nil {
		e.log.Errorf("Failed to subscribe to command topics: %v ⛔\n", err)
	}

	e.mu.Lock()
	e.online = true
	firstSession := e.bdSeq == 0 && len(e.birthed) == 0
	rebirth := make([]string, 0, len(e.birthed))
	for id := range e.birthed {
		rebirth = append(rebirth, id)
	}
	e.mu.Unlock()

	if err := e.PublishNBirth(); err != nil {
		e.log.Errorf("Failed to publish NBIRTH: %v ⛔\n", err)
	}
	e.flushBacklog()

	// A fresh session births everything; a resumed one re-births the
	// devices that were already alive.
	if firstSession {
		if e.handlers.OnDBirthAll != nil {
			e.handlers.OnDBirthAll()
		}
		return
	}
	if e.handlers.OnDBirth != nil {
		for _, id := range rebirth {
			e.handlers.OnDBirth(id)
		}
	}
}

func (e *EdgeNodeSvc) onConnectionDown() {
	e.mu.Lock()
	e.online = false
	e.mu.Unlock()
}

// nextSeq yields the payload sequence number, wrapping at 256.
func (e *EdgeNodeSvc) nextSeq() uint64 {
	retSeq := e.seq
	if e.seq == seqWrap {
		e.seq = 0
	} else {
		e.seq++
	}
	return retSeq
}

func (e *EdgeNodeSvc) deathPayload() *sparkplug.Payload {
	bdSeq := model.NewMetric("bdSeq", model.DataTypeInt64, int64(e.bdSeq))
	return &sparkplug.Payload{
		Timestamp: time.Now(),
		Metrics:   []*model.Metric{bdSeq},
	}
}

// nodeBirthMetrics assembles the NBIRTH schema: the bdSeq, the node control
// surface and the platform properties.
func (e *EdgeNodeSvc) nodeBirthMetrics() []*model.Metric {
	metrics := []*model.Metric{
		model.NewMetric("bdSeq", model.DataTypeInt64, int64(e.bdSeq)),
		model.NewMetric("Node Control/Rebirth", model.DataTypeBoolean, false),
	}
	if gi, err := goInfo.GetInfo(); err == nil {
		metrics = append(metrics,
			model.NewMetric("Properties/OS", model.DataTypeString, gi.OS),
			model.NewMetric("Properties/Kernel", model.DataTypeString, gi.Kernel),
			model.NewMetric("Properties/Hostname", model.DataTypeString, gi.Hostname),
		)
	}
	return metrics
}

func (e *EdgeNodeSvc) publish(topic string, payload *sparkplug.Payload, messageType string) error {
	raw, err := payload.Encode()
	if err != nil {
		return err
	}
	_, err = e.SessionHandler.MqttClient.Publish(e.ctx, &paho.Publish{
		QoS:     e.SessionHandler.MqttConfigs.QoS,
		Topic:   topic,
		Payload: raw,
	})
	if err != nil {
		e.monitor.PublishFailures.Inc()
		return errors.Wrapf(err, "publish %s", messageType)
	}
	e.monitor.FramesPublished.WithLabelValues(messageType).Inc()
	return nil
}

// PublishNBirth opens a new node birth epoch: seq restarts at zero and the
// bdSeq increments for the next session.
func (e *EdgeNodeSvc) PublishNBirth() error {
	e.mu.Lock()
	e.seq = 0
	payload := &sparkplug.Payload{
		Timestamp: time.Now(),
		Metrics:   e.nodeBirthMetrics(),
		Seq:       e.nextSeq(),
		HasSeq:    true,
	}
	if e.bdSeq == seqWrap {
		e.bdSeq = 0
	} else {
		e.bdSeq++
	}
	e.mu.Unlock()
	return e.publish(e.topic(sparkplug.NodeBirth, ""), payload, sparkplug.NodeBirth)
}

// PublishDBirth allocates an alias per metric, announces the device schema
// and returns the aliases in metric order.
func (e *EdgeNodeSvc) PublishDBirth(deviceId string, metrics []*model.Metric) ([]uint64, error) {
	e.mu.Lock()
	aliases := make([]uint64, len(metrics))
	birthMetrics := make([]*model.Metric, len(metrics))
	for i, m := range metrics {
		if m.Alias == 0 {
			e.aliasCounter++
			m.Alias = e.aliasCounter
		}
		aliases[i] = m.Alias
		birthMetrics[i] = m
	}
	payload := &sparkplug.Payload{
		Timestamp: time.Now(),
		Metrics:   birthMetrics,
		Seq:       e.nextSeq(),
		HasSeq:    true,
	}
	e.birthed[deviceId] = true
	e.mu.Unlock()

	if err := e.publish(e.topic(sparkplug.DeviceBirth, deviceId), payload, sparkplug.DeviceBirth); err != nil {
		return nil, err
	}
	e.log.WithField("Device Id", deviceId).Infoln("DBIRTH published ✅")
	return aliases, nil
}

// PublishDData publishes the changed metrics. Aliased metrics drop their
// name on the wire. Frames that cannot be published are buffered for
// store-and-forward when that is enabled.
func (e *EdgeNodeSvc) PublishDData(deviceId string, metrics []*model.Metric) error {
	wire := make([]*model.Metric, len(metrics))
	for i, m := range metrics {
		if m.Alias != 0 {
			clone := *m
			clone.Name = ""
			wire[i] = &clone
		} else {
			wire[i] = m
		}
	}
	e.mu.Lock()
	payload := &sparkplug.Payload{
		Timestamp: time.Now(),
		Metrics:   wire,
		Seq:       e.nextSeq(),
		HasSeq:    true,
	}
	online := e.online
	e.mu.Unlock()

	topic := e.topic(sparkplug.DeviceData, deviceId)
	if !online {
		e.buffer(topic, payload)
		return nil
	}
	if err := e.publish(topic, payload, sparkplug.DeviceData); err != nil {
		e.buffer(topic, payload)
		return err
	}
	return nil
}

func (e *EdgeNodeSvc) PublishDDeath(deviceId string) error {
	e.mu.Lock()
	payload := &sparkplug.Payload{
		Timestamp: time.Now(),
		Seq:       e.nextSeq(),
		HasSeq:    true,
	}
	delete(e.birthed, deviceId)
	e.mu.Unlock()
	if err := e.publish(e.topic(sparkplug.DeviceDeath, deviceId), payload, sparkplug.DeviceDeath); err != nil {
		return err
	}
	e.log.WithField("Device Id", deviceId).Warnln("DDEATH published 🔔")
	return nil
}

func (e *EdgeNodeSvc) buffer(topic string, payload *sparkplug.Payload) {
	if e.backlog == nil {
		return
	}
	raw, err := payload.Encode()
	if err != nil {
		return
	}
	e.mu.Lock()
	e.backlogKey++
	key := e.backlogKey
	e.mu.Unlock()
	e.backlog.Set(key, bufferedFrame{topic: topic, payload: raw}, ttlcache.DefaultTTL)
	e.monitor.FramesBuffered.Inc()
	e.log.WithField("Topic", topic).Debugln("DATA frame buffered for store-and-forward 🔔")
}

// flushBacklog republishes buffered frames oldest first.
func (e *EdgeNodeSvc) flushBacklog() {
	if e.backlog == nil {
		return
	}
	items := e.backlog.Items()
	keys := make([]uint64, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		item := items[k]
		if item == nil {
			continue
		}
		frame := item.Value()
		_, err := e.SessionHandler.MqttClient.Publish(e.ctx, &paho.Publish{
			QoS:     e.SessionHandler.MqttConfigs.QoS,
			Topic:   frame.topic,
			Payload: frame.payload,
		})
		if err != nil {
			e.log.Warnf("Store-and-forward flush interrupted: %v 🔔\n", err)
			return
		}
		e.monitor.FramesPublished.WithLabelValues(sparkplug.DeviceData).Inc()
		e.backlog.Delete(k)
	}
	if len(keys) > 0 {
		e.log.WithField("Frames", len(keys)).Infoln("Store-and-forward backlog flushed ✅")
	}
}

// handleNCmd processes node commands; Node Control/Rebirth re-opens the node
// epoch and re-births every device.
func (e *EdgeNodeSvc) handleNCmd(p *paho.Publish) {
	payload, err := sparkplug.Decode(p.Payload)
	if err != nil {
		e.log.Errorf("Malformed NCMD payload: %v ⛔\n", err)
		return
	}
	for _, m := range payload.Metrics {
		if m.Name != "Node Control/Rebirth" {
			e.log.WithField("Metric", m.Name).Warnln("Unhandled node command 🔔")
			continue
		}
		if v, ok := m.Value.(bool); !ok || !v {
			continue
		}
		e.log.Infoln("Node rebirth requested 🔔")
		if err := e.PublishNBirth(); err != nil {
			e.log.Errorf("Failed to publish NBIRTH: %v ⛔\n", err)
			continue
		}
		if e.handlers.OnDBirthAll != nil {
			e.handlers.OnDBirthAll()
		}
	}
}

func (e *EdgeNodeSvc) handleDCmd(p *paho.Publish) {
	parts := strings.Split(p.Topic, "/")
	if len(parts) < 5 {
		e.log.WithField("Topic", p.Topic).Warnln("DCMD topic without device id 🔔")
		return
	}
	deviceId := parts[4]
	payload, err := sparkplug.Decode(p.Payload)
	if err != nil {
		e.log.WithField("Device Id", deviceId).Errorf("Malformed DCMD payload: %v ⛔\n", err)
		return
	}
	if e.handlers.OnDCmd != nil {
		e.handlers.OnDCmd(deviceId, payload)
	}
}

// handleState tracks the primary host. While it is offline DATA frames are
// buffered; when it returns everything is flushed and re-birthed.
func (e *EdgeNodeSvc) handleState(p *paho.Publish) {
	state := strings.ToUpper(strings.TrimSpace(string(p.Payload)))
	switch state {
	case "ONLINE":
		e.log.Infoln("Primary host ONLINE ✅")
		e.mu.Lock()
		e.online = true
		e.mu.Unlock()
		e.flushBacklog()
		if e.handlers.OnDBirthAll != nil {
			e.handlers.OnDBirthAll()
		}
	case "OFFLINE":
		e.log.Warnln("Primary host OFFLINE, buffering DATA 🔔")
		e.mu.Lock()
		e.online = false
		e.mu.Unlock()
	}
}

// Stop publishes the node death certificate and tears the session down.
func (e *EdgeNodeSvc) Stop() {
	e.mu.Lock()
	payload := e.deathPayload()
	e.mu.Unlock()
	if err := e.publish(e.topic(sparkplug.NodeDeath, ""), payload, sparkplug.NodeDeath); err != nil {
		e.log.Warnf("Failed to publish NDEATH on shutdown: %v 🔔\n", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e.SessionHandler.Close(ctx, e.NodeId)
	if e.backlog != nil {
		e.backlog.Stop()
	}
	if e.handlers.OnStop != nil {
		e.handlers.OnStop()
	}
}
