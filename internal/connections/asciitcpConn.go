package connections

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/codec"
	"github.com/amineamaach/edgeTranslator-SpB/internal/config"
	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ASCIITCPConnection reads newline-framed ASCII records from a raw TCP
// stream. Each record is delivered under every subscribed address;
// delimited or JSON paths select the fields.
type ASCIITCPConnection struct {
	base
	details config.ASCIITCPConnDetails

	connMu sync.Mutex
	conn   net.Conn
	addrs  map[string][]string
	done   chan struct{}
}

func NewASCIITCPConnection(details config.ASCIITCPConnDetails, log *logrus.Logger) *ASCIITCPConnection {
	return &ASCIITCPConnection{
		base:    newBase(log),
		details: details,
		addrs:   make(map[string][]string),
	}
}

func (c *ASCIITCPConnection) target() string {
	return fmt.Sprintf("%s:%d", c.details.IP, c.details.Port)
}

func (c *ASCIITCPConnection) Open() {
	if !c.markOpen() {
		return
	}
	c.connMu.Lock()
	c.done = make(chan struct{})
	c.connMu.Unlock()
	go c.connectLoop()
}

func (c *ASCIITCPConnection) connectLoop() {
	dial := func() error {
		if !c.isOpen() {
			return backoff.Permanent(errors.New("connection closed"))
		}
		conn, err := net.DialTimeout("tcp", c.target(), 10*time.Second)
		if err != nil {
			return err
		}
		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()
		return nil
	}
	if err := backoff.Retry(dial, backoff.NewExponentialBackOff()); err != nil {
		c.emitError(errors.Wrapf(err, "dial %s", c.target()))
		return
	}
	c.log.WithField("Peer", c.target()).Infoln("ASCII-TCP connection up ✅")
	c.emitOpen()
	go c.readPump()
}

func (c *ASCIITCPConnection) readPump() {
	c.connMu.Lock()
	conn := c.conn
	done := c.done
	c.connMu.Unlock()
	if conn == nil {
		return
	}
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		c.connMu.Lock()
		seen := make(map[string]bool)
		obj := make(map[string]any)
		for _, addrs := range c.addrs {
			for _, addr := range addrs {
				if !seen[addr] {
					seen[addr] = true
					obj[addr] = line
				}
			}
		}
		c.connMu.Unlock()
		c.emitData(obj, true)
	}
	select {
	case <-done:
	default:
		if err := scanner.Err(); err != nil {
			c.emitError(errors.Wrap(err, "ASCII-TCP read"))
		}
		c.emitClose()
		go c.connectLoop()
	}
}

func (c *ASCIITCPConnection) Close() {
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

// ReadMetrics cannot solicit the stream; the pump delivers records.
func (c *ASCIITCPConnection) ReadMetrics(metrics []*model.Metric, format model.PayloadFormat, delimiter string) {
	c.log.Debugln("ASCII-TCP driver is push-based, one-shot read skipped")
}

func (c *ASCIITCPConnection) WriteMetrics(metrics []*model.Metric, cb func(error), format model.PayloadFormat, delimiter string) {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		cb(errors.New("ASCII-TCP not connected"))
		return
	}
	payload, err := codec.Encode(metrics, format, delimiter)
	if err != nil {
		cb(err)
		return
	}
	_, err = conn.Write(append(codecBytes(payload), '\n'))
	cb(errors.Wrap(err, "ASCII-TCP write"))
}

func (c *ASCIITCPConnection) StartSubscription(metrics []*model.Metric, format model.PayloadFormat, delimiter string, interval time.Duration, deviceId string, cb func(error)) {
	c.connMu.Lock()
	c.addrs[deviceId] = readableAddresses(metrics)
	c.connMu.Unlock()
	cb(nil)
}

func (c *ASCIITCPConnection) StopSubscription(deviceId string, cb func(error)) {
	c.connMu.Lock()
	delete(c.addrs, deviceId)
	c.connMu.Unlock()
	cb(nil)
}
