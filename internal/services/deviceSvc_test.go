package services

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/config"
	"github.com/amineamaach/edgeTranslator-SpB/internal/connections"
	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/amineamaach/edgeTranslator-SpB/internal/sparkplug"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// One monitor for the whole test binary; promauto registers globally.
var testMonitor = NewMonitor()

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

type nodeFrame struct {
	kind     string
	deviceId string
	metrics  []*model.Metric
}

type fakeNode struct {
	mu           sync.Mutex
	frames       []nodeFrame
	aliasCounter uint64
}

func (n *fakeNode) PublishDBirth(deviceId string, metrics []*model.Metric) ([]uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	aliases := make([]uint64, len(metrics))
	for i := range metrics {
		n.aliasCounter++
		aliases[i] = n.aliasCounter
	}
	n.frames = append(n.frames, nodeFrame{kind: sparkplug.DeviceBirth, deviceId: deviceId, metrics: metrics})
	return aliases, nil
}

func (n *fakeNode) PublishDData(deviceId string, metrics []*model.Metric) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.frames = append(n.frames, nodeFrame{kind: sparkplug.DeviceData, deviceId: deviceId, metrics: metrics})
	return nil
}

func (n *fakeNode) PublishDDeath(deviceId string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.frames = append(n.frames, nodeFrame{kind: sparkplug.DeviceDeath, deviceId: deviceId})
	return nil
}

func (n *fakeNode) Stop() {}

func (n *fakeNode) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.frames))
	for i, f := range n.frames {
		out[i] = f.kind
	}
	return out
}

func (n *fakeNode) lastFrame() nodeFrame {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.frames[len(n.frames)-1]
}

func (n *fakeNode) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.frames = nil
}

type fakeConn struct {
	mu        sync.Mutex
	readCalls int
	writes    [][]*model.Metric
	writeErr  error
	intervals []time.Duration
	stops     int
}

func (c *fakeConn) Open()  {}
func (c *fakeConn) Close() {}

func (c *fakeConn) Events() <-chan connections.Event { return nil }

func (c *fakeConn) ReadMetrics(metrics []*model.Metric, format model.PayloadFormat, delimiter string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readCalls++
}

func (c *fakeConn) WriteMetrics(metrics []*model.Metric, cb func(error), format model.PayloadFormat, delimiter string) {
	c.mu.Lock()
	c.writes = append(c.writes, metrics)
	err := c.writeErr
	c.mu.Unlock()
	cb(err)
}

func (c *fakeConn) StartSubscription(metrics []*model.Metric, format model.PayloadFormat, delimiter string, interval time.Duration, deviceId string, cb func(error)) {
	c.mu.Lock()
	c.intervals = append(c.intervals, interval)
	c.mu.Unlock()
	cb(nil)
}

func (c *fakeConn) StopSubscription(deviceId string, cb func(error)) {
	c.mu.Lock()
	c.stops++
	c.mu.Unlock()
	cb(nil)
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

// newTestDevice builds a device without starting its run loop; the tests
// drive dispatch directly, matching the single-actor discipline.
func newTestDevice(metrics []*model.Metric, conn *fakeConn, node *fakeNode, localFile string) *DeviceSvc {
	d := &DeviceSvc{
		DeviceId:      "press01",
		conn:          conn,
		node:          node,
		payloadFormat: model.FormatJSON,
		delimiter:     "",
		pollInt:       time.Second,
		localFile:     localFile,
		log:           testLogger(),
		monitor:       testMonitor,
		events:        make(chan deviceEvent, deviceQueueSize),
		done:          make(chan struct{}),
		exited:        make(chan struct{}),
	}
	d.Store = model.NewMetricStore(defaultMetrics(d.pollInt)...)
	d.Store.Add(metrics...)
	return d
}

// drain dispatches everything queued by callbacks.
func (d *DeviceSvc) drain() {
	for {
		select {
		case ev := <-d.events:
			d.dispatch(ev)
		default:
			return
		}
	}
}

func tempMetric() *model.Metric {
	m := model.NewMetric("Sensors/Temperature", model.DataTypeFloat, nil)
	m.Properties.Method = "GET"
	m.Properties.Address = "status"
	m.Properties.Path = "$.sensor.temp"
	return m
}

func setpointMetric() *model.Metric {
	m := model.NewMetric("Cmd/Setpoint", model.DataTypeInt16, nil)
	m.Properties.Method = "POST"
	m.Properties.Address = "setpoint"
	return m
}

func TestHandleDataChangeFilter(t *testing.T) {
	node := &fakeNode{}
	conn := &fakeConn{}
	d := newTestDevice([]*model.Metric{tempMetric()}, conn, node, "")

	payload := `{"sensor":{"temp":"23.5"}}`
	d.handleData(map[string]any{"status": payload}, true)

	// BIRTH precedes the first DATA of the epoch.
	require.Equal(t, []string{sparkplug.DeviceBirth, sparkplug.DeviceData}, node.kinds())
	assert.Equal(t, float32(23.5), d.Store.GetByName("Sensors/Temperature").Value)
	data := node.lastFrame()
	require.Len(t, data.metrics, 1)
	assert.Equal(t, "Sensors/Temperature", data.metrics[0].Name)

	// An identical payload produces no second DATA frame.
	d.handleData(map[string]any{"status": payload}, true)
	assert.Equal(t, []string{sparkplug.DeviceBirth, sparkplug.DeviceData}, node.kinds())

	// A changed value does.
	d.handleData(map[string]any{"status": `{"sensor":{"temp":"24.0"}}`}, true)
	assert.Equal(t, []string{sparkplug.DeviceBirth, sparkplug.DeviceData, sparkplug.DeviceData}, node.kinds())
}

func TestHandleDataPayloadTimestamp(t *testing.T) {
	node := &fakeNode{}
	d := newTestDevice([]*model.Metric{tempMetric()}, &fakeConn{}, node, "")

	d.handleData(map[string]any{"status": `{"timestamp":1700000000000,"sensor":{"temp":21}}`}, true)
	assert.Equal(t, time.UnixMilli(1700000000000), d.Store.GetByName("Sensors/Temperature").Timestamp)
}

func TestHandleDataRawValues(t *testing.T) {
	node := &fakeNode{}
	m := model.NewMetric("Plc/Speed", model.DataTypeUInt16, nil)
	m.Properties.Method = "GET"
	m.Properties.Address = "DB1,W0"
	d := newTestDevice([]*model.Metric{m}, &fakeConn{}, node, "")

	// parseVals=false bypasses the codec even for structured metrics.
	d.handleData(map[string]any{"DB1,W0": uint16(1480)}, false)
	assert.Equal(t, uint16(1480), d.Store.GetByName("Plc/Speed").Value)
}

func TestWatchdogDeath(t *testing.T) {
	node := &fakeNode{}
	d := newTestDevice([]*model.Metric{tempMetric()}, &fakeConn{}, node, "")

	d.handleData(map[string]any{"status": `{"sensor":{"temp":1}}`}, true)
	require.True(t, d.isAlive)

	// Refreshed watchdog does not fire.
	d.checkWatchdog()
	assert.NotContains(t, node.kinds(), sparkplug.DeviceDeath)

	// A silent driver fires it.
	d.watchdogDeadline = time.Now().Add(-time.Second)
	d.checkWatchdog()
	assert.Equal(t, sparkplug.DeviceDeath, node.kinds()[len(node.kinds())-1])
	assert.False(t, d.isAlive)

	// It fires exactly once.
	d.watchdogDeadline = time.Now().Add(-time.Second)
	d.checkWatchdog()
	deaths := 0
	for _, k := range node.kinds() {
		if k == sparkplug.DeviceDeath {
			deaths++
		}
	}
	assert.Equal(t, 1, deaths)

	// Recovery: fresh data opens a new epoch, BIRTH before DATA.
	node.reset()
	d.handleData(map[string]any{"status": `{"sensor":{"temp":2}}`}, true)
	assert.Equal(t, []string{sparkplug.DeviceBirth, sparkplug.DeviceData}, node.kinds())
}

func TestEpochFrameSequence(t *testing.T) {
	node := &fakeNode{}
	d := newTestDevice([]*model.Metric{tempMetric()}, &fakeConn{}, node, "")

	d.handleData(map[string]any{"status": `{"sensor":{"temp":1}}`}, true)
	d.handleData(map[string]any{"status": `{"sensor":{"temp":2}}`}, true)
	d.dispatch(deviceEvent{kind: devConnClose})
	d.handleData(map[string]any{"status": `{"sensor":{"temp":3}}`}, true)

	assert.Equal(t, []string{
		sparkplug.DeviceBirth,
		sparkplug.DeviceData,
		sparkplug.DeviceData,
		sparkplug.DeviceDeath,
		sparkplug.DeviceBirth,
		sparkplug.DeviceData,
	}, node.kinds())
}

func TestRebirthCommand(t *testing.T) {
	node := &fakeNode{}
	d := newTestDevice([]*model.Metric{tempMetric()}, &fakeConn{}, node, "")
	d.isConnected = true
	d.publishBirth(false)
	require.True(t, d.isAlive)
	node.reset()

	d.handleDCmd(&sparkplug.Payload{Metrics: []*model.Metric{
		model.NewMetric(MetricRebirth, model.DataTypeBoolean, true),
	}})

	assert.Equal(t, []string{sparkplug.DeviceBirth}, node.kinds())
	assert.True(t, d.isAlive)
}

func TestPollingIntervalCommand(t *testing.T) {
	localFile := filepath.Join(t.TempDir(), "conf.json")
	doc := &config.Document{
		Sparkplug: config.Sparkplug{GroupId: "g", EdgeNode: "n"},
		DeviceConnections: []config.ConnectionEntry{{
			ConnType: "REST",
			PollInt:  1000,
			Devices:  []config.DeviceEntry{{DeviceId: "press01", PollInt: 1000}},
		}},
	}
	require.NoError(t, config.SaveLocal(localFile, doc))

	node := &fakeNode{}
	conn := &fakeConn{}
	d := newTestDevice([]*model.Metric{tempMetric()}, conn, node, localFile)
	d.publishBirth(false)
	node.reset()

	d.handleDCmd(&sparkplug.Payload{Metrics: []*model.Metric{
		model.NewMetric(MetricPollingInterval, model.DataTypeInt64, int64(2500)),
	}})

	// Subscription stopped and restarted with the new cadence.
	assert.Equal(t, 1, conn.stops)
	require.NotEmpty(t, conn.intervals)
	assert.Equal(t, 2500*time.Millisecond, conn.intervals[len(conn.intervals)-1])

	// The metric store holds the narrowed native value.
	assert.Equal(t, uint16(2500), d.Store.GetByName(MetricPollingInterval).Value)

	// Exactly one DATA frame, for that metric.
	require.Equal(t, []string{sparkplug.DeviceData}, node.kinds())
	require.Len(t, node.lastFrame().metrics, 1)
	assert.Equal(t, MetricPollingInterval, node.lastFrame().metrics[0].Name)

	// The matching device entry was rewritten on disk.
	saved, err := config.LoadLocal(localFile)
	require.NoError(t, err)
	assert.Equal(t, 2500, saved.DeviceConnections[0].Devices[0].PollInt)
}

func TestWriteToReadOnlyMetric(t *testing.T) {
	node := &fakeNode{}
	conn := &fakeConn{}
	d := newTestDevice([]*model.Metric{tempMetric()}, conn, node, "")

	d.handleDCmd(&sparkplug.Payload{Metrics: []*model.Metric{
		model.NewMetric("Sensors/Temperature", model.DataTypeFloat, float32(99)),
	}})

	assert.Zero(t, conn.writeCount(), "no driver write for a read-only metric")
	assert.Empty(t, node.kinds(), "no frame for a rejected command")
}

func TestCommandWriteMirrorsAndPublishes(t *testing.T) {
	node := &fakeNode{}
	conn := &fakeConn{}
	d := newTestDevice([]*model.Metric{tempMetric(), setpointMetric()}, conn, node, "")
	d.publishBirth(false)
	node.reset()

	// Command values arrive as 64-bit integers and are narrowed.
	d.handleDCmd(&sparkplug.Payload{Metrics: []*model.Metric{
		model.NewMetric("Cmd/Setpoint", model.DataTypeInt64, int64(123)),
	}})
	d.drain()

	require.Equal(t, 1, conn.writeCount())
	assert.Equal(t, int16(123), d.Store.GetByName("Cmd/Setpoint").Value)
	require.Equal(t, []string{sparkplug.DeviceData}, node.kinds())
	assert.Equal(t, "Cmd/Setpoint", node.lastFrame().metrics[0].Name)
}

func TestCommandAliasResolution(t *testing.T) {
	node := &fakeNode{}
	conn := &fakeConn{}
	d := newTestDevice([]*model.Metric{tempMetric(), setpointMetric()}, conn, node, "")

	// Before BIRTH no aliases exist: an alias-only command is skipped.
	cmd := model.NewMetric("", model.DataTypeInt64, int64(55))
	cmd.Alias = 5
	d.handleDCmd(&sparkplug.Payload{Metrics: []*model.Metric{cmd}})
	assert.Zero(t, conn.writeCount())

	// After BIRTH the alias resolves: Cmd/Setpoint is the 5th metric.
	d.publishBirth(false)
	cmd = model.NewMetric("", model.DataTypeInt64, int64(55))
	cmd.Alias = 5
	d.handleDCmd(&sparkplug.Payload{Metrics: []*model.Metric{cmd}})
	d.drain()
	require.Equal(t, 1, conn.writeCount())
	assert.Equal(t, int16(55), d.Store.GetByName("Cmd/Setpoint").Value)
}

func TestRebootCommandIsStub(t *testing.T) {
	node := &fakeNode{}
	conn := &fakeConn{}
	d := newTestDevice(nil, conn, node, "")

	d.handleDCmd(&sparkplug.Payload{Metrics: []*model.Metric{
		model.NewMetric(MetricReboot, model.DataTypeBoolean, true),
	}})
	assert.Zero(t, conn.writeCount())
	assert.Empty(t, node.kinds())
}

func TestDefaultMetricsPrepended(t *testing.T) {
	d := newTestDevice([]*model.Metric{tempMetric()}, &fakeConn{}, &fakeNode{}, "")
	arr := d.Store.Array()
	require.GreaterOrEqual(t, len(arr), 4)
	assert.Equal(t, MetricPollingInterval, arr[0].Name)
	assert.Equal(t, uint16(1000), arr[0].Value)
	assert.True(t, arr[0].IsTransient)
	assert.Equal(t, MetricReboot, arr[1].Name)
	assert.Equal(t, MetricRebirth, arr[2].Name)
}
