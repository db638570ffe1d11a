package services

import (
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/codec"
	"github.com/amineamaach/edgeTranslator-SpB/internal/config"
	"github.com/amineamaach/edgeTranslator-SpB/internal/connections"
	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/amineamaach/edgeTranslator-SpB/internal/sparkplug"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

const (
	// MetricPollingInterval is the device's northbound polling-interval control.
	MetricPollingInterval = "Device Control/Polling Interval"
	// MetricReboot requests a vendor-specific device reboot.
	MetricReboot = "Device Control/Reboot"
	// MetricRebirth requests a fresh DBIRTH.
	MetricRebirth = "Device Control/Rebirth"

	// watchdogPeriod is the dead-man's-handle: no driver activity for this
	// long and the device is reported dead northbound.
	watchdogPeriod = 10 * time.Second
	watchdogTick   = time.Second

	// readinessPollInterval paces the wait for the driver's open event.
	readinessPollInterval = 100 * time.Millisecond

	deviceQueueSize = 64
)

type deviceEventKind int

const (
	devConnOpen deviceEventKind = iota
	devConnClose
	devConnError
	devConnData
	devCmd
	devBirth
	devWriteDone
)

// deviceEvent is one item on the device's serialised input queue: driver
// events, command events and internal completions all funnel through it.
type deviceEvent struct {
	kind      deviceEventKind
	err       error
	obj       map[string]any
	parseVals bool
	cmd       *sparkplug.Payload
	written   []*model.Metric
}

// DeviceSvc is one logical device: it owns the metric store and the
// watchdog, drives the BIRTH/DATA/DEATH lifecycle, decodes inbound driver
// data with change detection, and executes Sparkplug commands. All state
// transitions happen on the device's own goroutine, fed by the event queue.
type DeviceSvc struct {
	DeviceId string
	Store    *model.MetricStore

	// conn and node are non-owning references; lifetimes belong to the
	// translator.
	conn connections.Connection
	node sparkplug.Node

	payloadFormat model.PayloadFormat
	delimiter     string
	pollInt       time.Duration
	localFile     string

	log     *logrus.Logger
	monitor *Monitor

	events chan deviceEvent
	done   chan struct{}
	exited chan struct{}

	// Owned by the run loop.
	isConnected      bool
	isAlive          bool
	subscribed       bool
	watchdogDeadline time.Time
}

// defaultMetrics is the mandatory control surface prepended to every device.
func defaultMetrics(pollInt time.Duration) []*model.Metric {
	pollMetric := model.NewMetric(MetricPollingInterval, model.DataTypeUInt16, uint16(pollInt.Milliseconds()))
	pollMetric.IsTransient = true
	pollMetric.Properties.EngUnit = "ms"
	reboot := model.NewMetric(MetricReboot, model.DataTypeBoolean, false)
	reboot.IsTransient = true
	rebirth := model.NewMetric(MetricRebirth, model.DataTypeBoolean, false)
	rebirth.IsTransient = true
	return []*model.Metric{pollMetric, reboot, rebirth}
}

func NewDeviceInstance(
	spec config.DeviceSpec,
	conn connections.Connection,
	node sparkplug.Node,
	monitor *Monitor,
	localFile string,
	log *logrus.Logger,
) *DeviceSvc {
	pollInt := time.Duration(spec.PollInt) * time.Millisecond
	d := &DeviceSvc{
		DeviceId:      spec.DeviceId,
		conn:          conn,
		node:          node,
		payloadFormat: spec.PayloadFormat,
		delimiter:     spec.Delimiter,
		pollInt:       pollInt,
		localFile:     localFile,
		log:           log,
		monitor:       monitor,
		events:        make(chan deviceEvent, deviceQueueSize),
		done:          make(chan struct{}),
		exited:        make(chan struct{}),
	}
	d.Store = model.NewMetricStore(defaultMetrics(pollInt)...)
	d.Store.Add(spec.Metrics...)
	log.WithField("Device Id", d.DeviceId).Debugln("Setting up a new device instance 🔔")
	go d.run()
	return d
}

// enqueue puts an event on the device queue; when full the oldest event is
// dropped, logged and counted.
func (d *DeviceSvc) enqueue(ev deviceEvent) {
	select {
	case d.events <- ev:
		return
	default:
	}
	select {
	case <-d.events:
		d.monitor.DroppedEvents.Inc()
		d.log.WithField("Device Id", d.DeviceId).Warnln("Device queue full, dropping oldest event 🔔")
	default:
	}
	select {
	case d.events <- ev:
	default:
	}
}

// DeviceConnected is wired to the driver's open event.
func (d *DeviceSvc) DeviceConnected() { d.enqueue(deviceEvent{kind: devConnOpen}) }

// DeviceDisconnected is wired to the driver's close event.
func (d *DeviceSvc) DeviceDisconnected() { d.enqueue(deviceEvent{kind: devConnClose}) }

// DriverError is wired to the driver's error event.
func (d *DeviceSvc) DriverError(err error) { d.enqueue(deviceEvent{kind: devConnError, err: err}) }

// HandleData is wired to the driver's data event.
func (d *DeviceSvc) HandleData(obj map[string]any, parseVals bool) {
	d.enqueue(deviceEvent{kind: devConnData, obj: obj, parseVals: parseVals})
}

// HandleDCmd is wired to the Sparkplug node's dcmd event.
func (d *DeviceSvc) HandleDCmd(payload *sparkplug.Payload) {
	d.enqueue(deviceEvent{kind: devCmd, cmd: payload})
}

// RequestBirth asks for a fresh DBIRTH (dbirth / dbirth-all events).
func (d *DeviceSvc) RequestBirth() { d.enqueue(deviceEvent{kind: devBirth}) }

// Stop shuts the device down and waits for its loop to exit: subscription
// and watchdog cancelled, a final DDEATH published if the epoch is still
// open.
func (d *DeviceSvc) Stop() {
	select {
	case <-d.done:
	default:
		close(d.done)
	}
	<-d.exited
}

func (d *DeviceSvc) run() {
	defer close(d.exited)
	readiness := time.NewTicker(readinessPollInterval)
	defer readiness.Stop()
	watchdog := time.NewTicker(watchdogTick)
	defer watchdog.Stop()

	for {
		select {
		case <-d.done:
			d.shutdown()
			return
		case ev := <-d.events:
			d.dispatch(ev)
		case <-readiness.C:
			// Isolates the subscription handshake from the driver's own
			// open-event timing.
			if d.isConnected && !d.subscribed {
				d.startSubscription()
				d.publishBirth(true)
			}
		case <-watchdog.C:
			d.checkWatchdog()
		}
	}
}

func (d *DeviceSvc) dispatch(ev deviceEvent) {
	switch ev.kind {
	case devConnOpen:
		d.log.WithField("Device Id", d.DeviceId).Infoln("Driver connected ✅")
		d.isConnected = true
	case devConnClose:
		d.log.WithField("Device Id", d.DeviceId).Warnln("Driver disconnected 🔔")
		d.isConnected = false
		d.subscribed = false
		d.watchdogDeadline = time.Time{}
		d.publishDeath()
	case devConnError:
		d.log.WithFields(logrus.Fields{
			"Device Id": d.DeviceId,
			"Err":       ev.err,
		}).Errorln("Driver error ⛔")
	case devConnData:
		d.handleData(ev.obj, ev.parseVals)
	case devCmd:
		d.handleDCmd(ev.cmd)
	case devBirth:
		d.publishBirth(false)
	case devWriteDone:
		d.mirrorWrite(ev.written)
	}
}

func (d *DeviceSvc) shutdown() {
	d.conn.StopSubscription(d.DeviceId, func(error) {})
	d.publishDeath()
	d.log.WithField("Device Id", d.DeviceId).Infoln("Device stopped ✅")
}

func (d *DeviceSvc) startSubscription() {
	d.subscribed = true
	d.conn.StartSubscription(d.Store.Array(), d.payloadFormat, d.delimiter, d.pollInt, d.DeviceId,
		func(err error) {
			if err != nil {
				d.log.WithFields(logrus.Fields{
					"Device Id": d.DeviceId,
					"Err":       err,
				}).Errorln("Failed to start subscription ⛔")
				return
			}
			d.log.WithFields(logrus.Fields{
				"Device Id": d.DeviceId,
				"Interval":  d.pollInt,
			}).Infoln("Subscription armed ✅")
		})
}

// publishBirth opens a birth epoch: the full schema goes out and the
// returned aliases are indexed. readFirst also triggers a one-shot read; it
// completes asynchronously, so the birth carries the stored values and the
// read's values follow as an ordinary data event.
func (d *DeviceSvc) publishBirth(readFirst bool) {
	if readFirst {
		d.conn.ReadMetrics(d.Store.Array(), d.payloadFormat, d.delimiter)
	}
	aliases, err := d.node.PublishDBirth(d.DeviceId, d.Store.Array())
	if err != nil {
		d.log.WithFields(logrus.Fields{
			"Device Id": d.DeviceId,
			"Err":       err,
		}).Errorln("Failed to publish DBIRTH ⛔")
		return
	}
	for i, alias := range aliases {
		d.Store.SetAlias(i, alias)
	}
	d.isAlive = true
	d.monitor.DeviceAlive.WithLabelValues(d.DeviceId).Set(1)
	d.refreshWatchdog()
}

func (d *DeviceSvc) publishDeath() {
	if !d.isAlive {
		return
	}
	if err := d.node.PublishDDeath(d.DeviceId); err != nil {
		d.log.WithFields(logrus.Fields{
			"Device Id": d.DeviceId,
			"Err":       err,
		}).Errorln("Failed to publish DDEATH ⛔")
	}
	d.isAlive = false
	d.monitor.DeviceAlive.WithLabelValues(d.DeviceId).Set(0)
}

// publishData emits a DATA frame, opening a fresh birth epoch first if the
// previous one is closed: BIRTH strictly precedes the first DATA.
func (d *DeviceSvc) publishData(metrics []*model.Metric) {
	if !d.isAlive {
		d.publishBirth(true)
	}
	if err := d.node.PublishDData(d.DeviceId, metrics); err != nil {
		d.log.WithFields(logrus.Fields{
			"Device Id": d.DeviceId,
			"Err":       err,
		}).Errorln("Failed to publish DDATA ⛔")
	}
}

func (d *DeviceSvc) refreshWatchdog() {
	d.watchdogDeadline = time.Now().Add(watchdogPeriod)
}

// checkWatchdog is the dead-man's-handle: a silent driver is reported dead
// northbound within the watchdog period.
func (d *DeviceSvc) checkWatchdog() {
	if !d.isAlive || d.watchdogDeadline.IsZero() {
		return
	}
	if time.Now().Before(d.watchdogDeadline) {
		return
	}
	d.log.WithField("Device Id", d.DeviceId).Warnln("Watchdog expired, device is silent 🔔")
	d.watchdogDeadline = time.Time{}
	d.publishDeath()
}

// handleData runs the inbound pipeline: for every address in the event, for
// every path registered under it, decode, change-filter, store, and publish
// one DATA frame with exactly the changed metrics.
func (d *DeviceSvc) handleData(obj map[string]any, parseVals bool) {
	singleAddress := len(obj) == 1
	var changed []*model.Metric

	for addr, raw := range obj {
		for _, path := range d.Store.PathsForAddress(addr) {
			metric := d.Store.GetByAddressPath(addr, path)
			if metric == nil {
				continue
			}
			// A structured payload with no selector on this metric is
			// ambiguous, unless the driver delivered final values or the
			// payload belongs to this address alone.
			if parseVals && !singleAddress && metric.Properties.Path == "" {
				d.log.WithFields(logrus.Fields{
					"Device Id": d.DeviceId,
					"Metric":    metric.Name,
				}).Debugln("Ambiguous payload for metric without path, skipped 🔔")
				continue
			}

			newValue := raw
			if parseVals {
				v, err := codec.ParseValue(raw, metric, d.payloadFormat, d.delimiter)
				if err != nil {
					d.monitor.DecodeErrors.Inc()
					d.log.WithFields(logrus.Fields{
						"Device Id": d.DeviceId,
						"Metric":    metric.Name,
						"Err":       err,
					}).Errorln("Failed to decode value ⛔")
					continue
				}
				newValue = v
			}

			// Change filter: null never replaces a value (zero is valid),
			// and unchanged values do not produce frames.
			if newValue == nil {
				d.log.WithFields(logrus.Fields{
					"Device Id": d.DeviceId,
					"Metric":    metric.Name,
				}).Debugln("Null update ignored 🔔")
				continue
			}
			if model.ValuesEqual(newValue, metric.Value) {
				d.log.WithFields(logrus.Fields{
					"Device Id": d.DeviceId,
					"Metric":    metric.Name,
				}).Debugln("Unchanged value ignored 🔔")
				continue
			}

			ts := time.Time{}
			if parseVals {
				if payloadTs, ok := codec.ParseTimestamp(raw, d.payloadFormat); ok {
					ts = payloadTs
				}
			}
			d.Store.SetValueByAddressPath(addr, path, newValue, ts)
			changed = append(changed, metric)
		}
	}

	if len(changed) > 0 {
		d.publishData(changed)
	}
	d.refreshWatchdog()
}

// writeMetrics delegates to the driver and mirrors the written values into
// the store once the driver confirms.
func (d *DeviceSvc) writeMetrics(metrics []*model.Metric) {
	d.conn.WriteMetrics(metrics, func(err error) {
		if err != nil {
			d.log.WithFields(logrus.Fields{
				"Device Id": d.DeviceId,
				"Err":       err,
			}).Errorln("Driver write failed ⛔")
			return
		}
		d.enqueue(deviceEvent{kind: devWriteDone, written: metrics})
	}, d.payloadFormat, d.delimiter)
}

func (d *DeviceSvc) mirrorWrite(written []*model.Metric) {
	mirrored := make([]*model.Metric, 0, len(written))
	for _, w := range written {
		if m := d.Store.SetValueByName(w.Name, w.Value, time.Time{}); m != nil {
			mirrored = append(mirrored, m)
		}
	}
	if len(mirrored) > 0 {
		d.publishData(mirrored)
	}
	d.refreshWatchdog()
}

// handleDCmd executes one inbound command payload. Writes to plain metrics
// are batched and flushed through the driver as one write.
func (d *DeviceSvc) handleDCmd(payload *sparkplug.Payload) {
	if payload == nil {
		return
	}
	var writes []*model.Metric
	for _, cm := range payload.Metrics {
		name := cm.Name
		if name == "" && cm.Alias != 0 {
			if m := d.Store.GetByAlias(cm.Alias); m != nil {
				name = m.Name
			}
		}
		if name == "" {
			d.log.WithFields(logrus.Fields{
				"Device Id": d.DeviceId,
				"Alias":     cm.Alias,
			}).Warnln("Command for unknown metric, skipped 🔔")
			continue
		}

		switch name {
		case MetricReboot:
			if v, _ := cm.Value.(bool); v {
				d.log.WithField("Device Id", d.DeviceId).Warnln("Device reboot not yet implemented 🔔")
			}
		case MetricRebirth:
			if v, _ := cm.Value.(bool); v {
				d.publishBirth(false)
			}
		case MetricPollingInterval:
			d.setPollingInterval(cm.Value)
		default:
			target := d.Store.GetByName(name)
			if target == nil {
				d.log.WithFields(logrus.Fields{
					"Device Id": d.DeviceId,
					"Metric":    name,
				}).Warnln("Command for unknown metric, skipped 🔔")
				continue
			}
			if target.Properties.Readable() {
				d.log.WithFields(logrus.Fields{
					"Device Id": d.DeviceId,
					"Metric":    name,
				}).Warnln("Metric is read only 🔔")
				continue
			}
			// Command values arrive as 64-bit integers; narrow to the
			// metric's native type before writing.
			value, err := codec.Coerce(cm.Value, target.Type)
			if err != nil {
				d.log.WithFields(logrus.Fields{
					"Device Id": d.DeviceId,
					"Metric":    name,
					"Err":       err,
				}).Errorln("Command value does not fit the metric type ⛔")
				continue
			}
			write := *target
			write.Value = value
			write.IsNull = value == nil
			writes = append(writes, &write)
		}
	}
	if len(writes) > 0 {
		d.writeMetrics(writes)
	}
}

// setPollingInterval restarts the subscription at the commanded cadence and
// persists the new value under this device's entry in the local config file.
func (d *DeviceSvc) setPollingInterval(value any) {
	ms, err := cast.ToUint16E(value)
	if err != nil || ms == 0 {
		d.log.WithFields(logrus.Fields{
			"Device Id": d.DeviceId,
			"Value":     value,
		}).Errorln("Invalid polling interval ⛔")
		return
	}

	d.conn.StopSubscription(d.DeviceId, func(error) {})
	d.subscribed = false
	d.pollInt = time.Duration(ms) * time.Millisecond

	metric := d.Store.SetValueByName(MetricPollingInterval, ms, time.Time{})
	if metric != nil {
		d.publishData([]*model.Metric{metric})
	}

	d.startSubscription()

	if d.localFile != "" {
		if err := config.WriteDevicePollInt(d.localFile, d.DeviceId, int(ms)); err != nil {
			d.log.WithFields(logrus.Fields{
				"Device Id": d.DeviceId,
				"Err":       err,
			}).Errorln("Failed to persist polling interval ⛔")
		}
	}
	d.log.WithFields(logrus.Fields{
		"Device Id": d.DeviceId,
		"Interval":  d.pollInt,
	}).Infoln("Polling interval updated ✅")
}
