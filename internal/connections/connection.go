// Package connections implements the southbound driver contract: a uniform
// connection interface over heterogeneous device protocols, emitting a typed
// event stream consumed by the owning devices.
package connections

import (
	"sync"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/sirupsen/logrus"
)

type EventKind int

const (
	// EventOpen signals the driver is usable.
	EventOpen EventKind = iota
	// EventClose signals the driver lost its transport.
	EventClose
	// EventError carries a non-fatal driver error.
	EventError
	// EventData carries one {address: raw} mapping read from the device.
	EventData
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	case EventData:
		return "data"
	default:
		return "unknown"
	}
}

// Event is the tagged variant a connection emits. For EventData, Obj maps a
// device address to whatever raw form the driver chose: a JSON string, a
// byte buffer, or an already-decoded native value. ParseVals is false when
// the raw values are final and the codec layer must be bypassed.
type Event struct {
	Kind      EventKind
	Err       error
	Obj       map[string]any
	ParseVals bool
}

// Connection is the polymorphic southbound driver. Open and Close are
// idempotent; all operations are asynchronous, reporting through the event
// stream or the supplied callback.
type Connection interface {
	Open()
	Close()
	Events() <-chan Event

	// ReadMetrics performs a one-shot read of the readable metrics and
	// emits a data event. Push-based drivers cannot solicit data; their
	// ReadMetrics only logs and emits nothing.
	ReadMetrics(metrics []*model.Metric, format model.PayloadFormat, delimiter string)
	// WriteMetrics attempts a write and invokes cb exactly once.
	WriteMetrics(metrics []*model.Metric, cb func(error), format model.PayloadFormat, delimiter string)
	// StartSubscription begins a periodic read for deviceId. Push-capable
	// drivers arm their pipeline instead and invoke cb immediately.
	StartSubscription(metrics []*model.Metric, format model.PayloadFormat, delimiter string, interval time.Duration, deviceId string, cb func(error))
	StopSubscription(deviceId string, cb func(error))
}

const eventQueueSize = 64

// base carries the shared driver plumbing: the bounded event queue with
// drop-oldest overflow, open/close idempotency, and the default timer-driven
// subscription.
type base struct {
	log    *logrus.Logger
	events chan Event

	mu     sync.Mutex
	opened bool
	subs   map[string]chan struct{}
}

func newBase(log *logrus.Logger) base {
	return base{
		log:    log,
		events: make(chan Event, eventQueueSize),
		subs:   make(map[string]chan struct{}),
	}
}

func (b *base) Events() <-chan Event { return b.events }

// markOpen flips the open flag; returns false if already open.
func (b *base) markOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.opened {
		return false
	}
	b.opened = true
	return true
}

// markClosed flips the open flag back; returns false if already closed.
func (b *base) markClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.opened {
		return false
	}
	b.opened = false
	return true
}

func (b *base) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

// emit enqueues an event; when the queue is full the oldest event is dropped
// and the drop is logged.
func (b *base) emit(ev Event) {
	select {
	case b.events <- ev:
		return
	default:
	}
	select {
	case old := <-b.events:
		b.log.WithField("Kind", old.Kind.String()).Warnln("Event queue full, dropping oldest 🔔")
	default:
	}
	select {
	case b.events <- ev:
	default:
	}
}

func (b *base) emitOpen()           { b.emit(Event{Kind: EventOpen}) }
func (b *base) emitClose()          { b.emit(Event{Kind: EventClose}) }
func (b *base) emitError(err error) { b.emit(Event{Kind: EventError, Err: err}) }

func (b *base) emitData(obj map[string]any, parseVals bool) {
	if len(obj) == 0 {
		return
	}
	b.emit(Event{Kind: EventData, Obj: obj, ParseVals: parseVals})
}

// startPolling is the default StartSubscription: a simple timer calling the
// read function. Replaces any previous subscription for the device.
func (b *base) startPolling(deviceId string, interval time.Duration, read func(), cb func(error)) {
	b.mu.Lock()
	if prev, ok := b.subs[deviceId]; ok {
		close(prev)
	}
	stop := make(chan struct{})
	b.subs[deviceId] = stop
	b.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				read()
			}
		}
	}()
	cb(nil)
}

// stopPolling cancels the device's subscription if one is armed.
func (b *base) stopPolling(deviceId string, cb func(error)) {
	b.mu.Lock()
	if stop, ok := b.subs[deviceId]; ok {
		close(stop)
		delete(b.subs, deviceId)
	}
	b.mu.Unlock()
	cb(nil)
}

// stopAllPolling cancels every subscription; used by Close.
func (b *base) stopAllPolling() {
	b.mu.Lock()
	for id, stop := range b.subs {
		close(stop)
		delete(b.subs, id)
	}
	b.mu.Unlock()
}

// readableAddresses returns the distinct addresses of the GET metrics,
// preserving first-seen order.
func readableAddresses(metrics []*model.Metric) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range metrics {
		addr := m.Properties.Address
		if addr == "" || !m.Properties.Readable() || seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}
