package services

import (
	"context"
	"sync"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/config"
	"github.com/amineamaach/edgeTranslator-SpB/internal/connections"
	"github.com/amineamaach/edgeTranslator-SpB/internal/sparkplug"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// TranslatorSvc supervises the whole translation pipeline: it resolves the
// node's identity, fetches and rehashes the configuration, builds one
// connection per southbound endpoint and one device per logical device,
// wires the event flows between them, and owns every lifetime.
type TranslatorSvc struct {
	cfg      config.Cfg
	log      *logrus.Logger
	monitor  *Monitor
	identity IdentityProvider
	configs  ConfigSource

	node  *EdgeNodeSvc
	conns []connections.Connection

	mu      sync.Mutex
	devices map[string]*DeviceSvc

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  chan struct{}
}

func NewTranslatorSvc(
	cfg config.Cfg,
	identity IdentityProvider,
	configs ConfigSource,
	monitor *Monitor,
	log *logrus.Logger,
) *TranslatorSvc {
	return &TranslatorSvc{
		cfg:      cfg,
		log:      log,
		monitor:  monitor,
		identity: identity,
		configs:  configs,
		devices:  make(map[string]*DeviceSvc),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// waitFor polls the probe at the configured interval until it yields a
// value. Every attempt and failure is logged.
func waitFor[T any](ctx context.Context, name string, interval time.Duration, log *logrus.Logger, probe func() (T, bool)) (T, error) {
	var result T
	attempt := 0
	op := func() error {
		attempt++
		log.WithFields(logrus.Fields{
			"Probe":   name,
			"Attempt": attempt,
		}).Infoln("Polling.. 🔔")
		v, ok := probe()
		if !ok {
			log.WithField("Probe", name).Warnln("Not available yet 🔔")
			return errors.Errorf("%s not available", name)
		}
		result = v
		return nil
	}
	policy := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return result, err
	}
	return result, nil
}

// Start brings the translator up: identity, config, Sparkplug node, then
// connections and devices. It blocks until the pipeline is wired.
func (t *TranslatorSvc) Start(ctx context.Context) error {
	interval := time.Duration(t.cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}

	principal, err := waitFor(ctx, "identity", interval, t.log, func() (*Principal, bool) {
		p, err := t.identity.FindPrincipal()
		if err != nil {
			t.log.Errorf("Identity lookup failed: %v ⛔\n", err)
			return nil, false
		}
		if !p.Valid() {
			return nil, false
		}
		return p, true
	})
	if err != nil {
		return errors.Wrap(err, "resolve identity")
	}
	t.log.WithFields(logrus.Fields{
		"UUID":      principal.UUID,
		"Group Id":  principal.Sparkplug.GroupId,
		"EdgeNode":  principal.Sparkplug.EdgeNode,
	}).Infoln("Identity resolved ✅")

	nodeUUID, err := uuid.Parse(principal.UUID)
	if err != nil {
		return errors.Wrap(err, "principal uuid")
	}

	doc, err := waitFor(ctx, "config", interval, t.log, func() (*config.Document, bool) {
		d, err := t.configs.GetConfig(EdgeAgentAppUUID, nodeUUID)
		if err != nil {
			t.log.Errorf("Config fetch failed: %v ⛔\n", err)
			d = nil
		}
		if d == nil {
			// The locally persisted copy keeps the factory running while
			// the config service is unreachable.
			local, lerr := config.LoadLocal(t.cfg.LocalFile)
			if lerr != nil || !local.Valid() {
				return nil, false
			}
			t.log.Infoln("Using locally persisted config 🔔")
			return local, true
		}
		if !d.Valid() {
			t.log.Warnln("Fetched config is invalid, retrying 🔔")
			return nil, false
		}
		if err := config.SaveLocal(t.cfg.LocalFile, d); err != nil {
			t.log.Warnf("Could not persist config locally: %v 🔔\n", err)
		}
		return d, true
	})
	if err != nil {
		return errors.Wrap(err, "fetch config")
	}

	specs := config.Rehash(doc)

	handlers := sparkplug.Handlers{
		OnDBirth: func(deviceId string) {
			if d := t.device(deviceId); d != nil {
				d.RequestBirth()
			}
		},
		OnDBirthAll: func() {
			for _, d := range t.allDevices() {
				d.RequestBirth()
			}
		},
		OnDCmd: func(deviceId string, payload *sparkplug.Payload) {
			d := t.device(deviceId)
			if d == nil {
				t.log.WithField("Device Id", deviceId).Warnln("Command for unknown device 🔔")
				return
			}
			d.HandleDCmd(payload)
		},
		OnStop: func() {
			t.log.Infoln("Sparkplug node stopped 🔔")
		},
	}

	node, err := NewEdgeNodeInstance(ctx,
		principal.Sparkplug.GroupId, principal.Sparkplug.EdgeNode,
		handlers, t.monitor, t.log, t.cfg.MQTTConfig)
	if err != nil {
		return errors.Wrap(err, "sparkplug node")
	}
	t.node = node

	for _, spec := range specs {
		factory, ok := connections.Registry[spec.Entry.ConnType]
		if !ok {
			t.log.WithField("ConnType", spec.Entry.ConnType).Warnln("Unknown connection type, skipped 🔔")
			continue
		}
		conn, err := factory.New(spec.Entry, t.log)
		if err != nil {
			// A broken driver declaration is fatal: tear down whatever is
			// already built.
			t.Stop()
			return errors.Wrapf(err, "construct %s connection", spec.Entry.ConnType)
		}
		t.conns = append(t.conns, conn)

		connDevices := make([]*DeviceSvc, 0, len(spec.Devices))
		for _, ds := range spec.Devices {
			device := NewDeviceInstance(ds, conn, node, t.monitor, t.cfg.LocalFile, t.log)
			t.mu.Lock()
			t.devices[ds.DeviceId] = device
			t.mu.Unlock()
			connDevices = append(connDevices, device)
		}
		go t.fanOut(conn, connDevices)
	}

	if err := node.AwaitConnection(ctx); err != nil {
		return errors.Wrap(err, "await broker connection")
	}

	for _, conn := range t.conns {
		conn.Open()
	}
	t.log.Infoln("Translator started ✅")
	return nil
}

// fanOut forwards one connection's events to every device bound to it.
func (t *TranslatorSvc) fanOut(conn connections.Connection, devices []*DeviceSvc) {
	for {
		select {
		case <-t.stopCh:
			return
		case ev := <-conn.Events():
			for _, d := range devices {
				switch ev.Kind {
				case connections.EventOpen:
					d.DeviceConnected()
				case connections.EventClose:
					d.DeviceDisconnected()
				case connections.EventError:
					d.DriverError(ev.Err)
				case connections.EventData:
					d.HandleData(ev.Obj, ev.ParseVals)
				}
			}
		}
	}
}

func (t *TranslatorSvc) device(deviceId string) *DeviceSvc {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.devices[deviceId]
}

func (t *TranslatorSvc) allDevices() []*DeviceSvc {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*DeviceSvc, 0, len(t.devices))
	for _, d := range t.devices {
		out = append(out, d)
	}
	return out
}

// Stop tears everything down in dependency order: devices first (cancelling
// watchdogs and subscriptions), then connections, then the Sparkplug node.
func (t *TranslatorSvc) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		for _, d := range t.allDevices() {
			d.Stop()
		}
		for _, conn := range t.conns {
			conn.Close()
		}
		if t.node != nil {
			t.node.Stop()
		}
		t.log.Infoln("Translator stopped ✅")
		close(t.stopped)
	})
}

// Stopped closes once Stop has completed.
func (t *TranslatorSvc) Stopped() <-chan struct{} { return t.stopped }
