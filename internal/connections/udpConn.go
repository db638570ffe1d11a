package connections

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/codec"
	"github.com/amineamaach/edgeTranslator-SpB/internal/config"
	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const udpReadBufferSize = 64 * 1024

// UDPConnection listens for datagrams on a local port. Each datagram is
// delivered under every subscribed address; paths (usually byte offsets)
// select within it. Writes dial the metric's address as host:port.
type UDPConnection struct {
	base
	details config.UDPConnDetails

	connMu sync.Mutex
	conn   *net.UDPConn
	addrs  map[string][]string
	done   chan struct{}
}

func NewUDPConnection(details config.UDPConnDetails, log *logrus.Logger) *UDPConnection {
	return &UDPConnection{
		base:    newBase(log),
		details: details,
		addrs:   make(map[string][]string),
	}
}

func (c *UDPConnection) Open() {
	if !c.markOpen() {
		return
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: c.details.Port})
	if err != nil {
		c.emitError(errors.Wrapf(err, "UDP listen :%d", c.details.Port))
		return
	}
	c.connMu.Lock()
	c.conn = conn
	c.done = make(chan struct{})
	done := c.done
	c.connMu.Unlock()

	c.log.WithField("Port", c.details.Port).Infoln("UDP listener up ✅")
	c.emitOpen()

	go func() {
		buf := make([]byte, udpReadBufferSize)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				select {
				case <-done:
				default:
					c.emitError(errors.Wrap(err, "UDP read"))
					c.emitClose()
				}
				return
			}
			datagram := make([]byte, n)
			copy(datagram, buf[:n])
			c.deliver(datagram)
		}
	}()
}

func (c *UDPConnection) deliver(datagram []byte) {
	c.connMu.Lock()
	seen := make(map[string]bool)
	obj := make(map[string]any)
	for _, addrs := range c.addrs {
		for _, addr := range addrs {
			if !seen[addr] {
				seen[addr] = true
				obj[addr] = datagram
			}
		}
	}
	c.connMu.Unlock()
	c.emitData(obj, true)
}

func (c *UDPConnection) Close() {
	if !c.markClosed() {
		return
	}
	c.connMu.Lock()
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.addrs = make(map[string][]string)
	c.connMu.Unlock()
	c.emitClose()
}

// ReadMetrics cannot solicit datagrams; the listener delivers them.
func (c *UDPConnection) ReadMetrics(metrics []*model.Metric, format model.PayloadFormat, delimiter string) {
	c.log.Debugln("UDP driver is push-based, one-shot read skipped")
}

func (c *UDPConnection) WriteMetrics(metrics []*model.Metric, cb func(error), format model.PayloadFormat, delimiter string) {
	go func() {
		for _, m := range metrics {
			target, err := net.ResolveUDPAddr("udp", m.Properties.Address)
			if err != nil {
				cb(errors.Wrapf(err, "resolve %q", m.Properties.Address))
				return
			}
			payload, err := codec.Encode([]*model.Metric{m}, format, delimiter)
			if err != nil {
				cb(err)
				return
			}
			peer, err := net.DialUDP("udp", nil, target)
			if err != nil {
				cb(errors.Wrapf(err, "dial %s", target))
				return
			}
			_, err = peer.Write(codecBytes(payload))
			peer.Close()
			if err != nil {
				cb(errors.Wrapf(err, "write %s", fmt.Sprint(target)))
				return
			}
		}
		cb(nil)
	}()
}

func (c *UDPConnection) StartSubscription(metrics []*model.Metric, format model.PayloadFormat, delimiter string, interval time.Duration, deviceId string, cb func(error)) {
	c.connMu.Lock()
	c.addrs[deviceId] = readableAddresses(metrics)
	c.connMu.Unlock()
	cb(nil)
}

func (c *UDPConnection) StopSubscription(deviceId string, cb func(error)) {
	c.connMu.Lock()
	delete(c.addrs, deviceId)
	c.connMu.Unlock()
	cb(nil)
}
