package connections

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/config"
	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Open Protocol MIDs used by the driver.
const (
	midCommStart        = "0001"
	midCommStartAck     = "0002"
	midCommStop         = "0003"
	midError            = "0004"
	midCmdAccepted      = "0005"
	midTighteningSub    = "0060"
	midTighteningResult = "0061"
	midTighteningAck    = "0062"
	midKeepAlive        = "9999"
)

const opKeepAliveInterval = 8 * time.Second

// OpenProtocolConnection talks to a torque controller over Open Protocol:
// NUL-terminated ASCII frames with a 20-byte header. Inbound result frames
// are delivered under their MID as address, with the data field as a
// delimited/fixed-position payload.
type OpenProtocolConnection struct {
	base
	details config.OpenProtocolConnDetails

	connMu sync.Mutex
	conn   net.Conn
	done   chan struct{}
	subbed bool
}

func NewOpenProtocolConnection(details config.OpenProtocolConnDetails, log *logrus.Logger) *OpenProtocolConnection {
	return &OpenProtocolConnection{
		base:    newBase(log),
		details: details,
	}
}

// frame builds a NUL-terminated Open Protocol frame around the data field.
func frame(mid, data string) []byte {
	length := 20 + len(data)
	header := fmt.Sprintf("%04d%s001         ", length, mid)
	return append([]byte(header+data), 0)
}

func (c *OpenProtocolConnection) target() string {
	return fmt.Sprintf("%s:%d", c.details.IP, c.details.Port)
}

func (c *OpenProtocolConnection) Open() {
	if !c.markOpen() {
		return
	}
	c.connMu.Lock()
	c.done = make(chan struct{})
	c.connMu.Unlock()
	go c.connectLoop()
}

func (c *OpenProtocolConnection) connectLoop() {
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
	if err := c.send(midCommStart, ""); err != nil {
		c.emitError(err)
		return
	}
	go c.readPump()
	go c.keepAlive()
}

func (c *OpenProtocolConnection) send(mid, data string) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return errors.New("open protocol not connected")
	}
	_, err := conn.Write(frame(mid, data))
	return errors.Wrapf(err, "send MID%s", mid)
}

func (c *OpenProtocolConnection) keepAlive() {
	ticker := time.NewTicker(opKeepAliveInterval)
	defer ticker.Stop()
	c.connMu.Lock()
	done := c.done
	c.connMu.Unlock()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.send(midKeepAlive, ""); err != nil {
				return
			}
		}
	}
}

func (c *OpenProtocolConnection) readPump() {
	c.connMu.Lock()
	conn := c.conn
	done := c.done
	c.connMu.Unlock()
	if conn == nil {
		return
	}
	reader := bufio.NewReader(conn)
	for {
		raw, err := reader.ReadBytes(0)
		if err != nil {
			select {
			case <-done:
			default:
				c.emitError(errors.Wrap(err, "open protocol read"))
				c.emitClose()
				go c.connectLoop()
			}
			return
		}
		raw = raw[:len(raw)-1]
		if len(raw) < 20 {
			continue
		}
		mid := string(raw[4:8])
		data := string(raw[20:])
		switch mid {
		case midCommStartAck:
			c.log.WithField("Controller", c.target()).Infoln("Open Protocol session up ✅")
			c.emitOpen()
		case midError:
			c.emitError(errors.Errorf("controller error frame: %s", strings.TrimSpace(data)))
		case midCmdAccepted, midKeepAlive:
			// acknowledgements, nothing to deliver
		case midTighteningResult:
			_ = c.send(midTighteningAck, "")
			c.emitData(map[string]any{mid: data}, true)
		default:
			c.emitData(map[string]any{mid: data}, true)
		}
	}
}

func (c *OpenProtocolConnection) Close() {
	if !c.markClosed() {
		return
	}
	_ = c.send(midCommStop, "")
	c.connMu.Lock()
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.subbed = false
	c.connMu.Unlock()
	c.emitClose()
}

// ReadMetrics cannot solicit result frames; the controller pushes them.
func (c *OpenProtocolConnection) ReadMetrics(metrics []*model.Metric, format model.PayloadFormat, delimiter string) {
	c.log.Debugln("Open Protocol driver is push-based, one-shot read skipped")
}

// WriteMetrics sends the metric value as the data field of the MID named by
// the metric's address.
func (c *OpenProtocolConnection) WriteMetrics(metrics []*model.Metric, cb func(error), format model.PayloadFormat, delimiter string) {
	go func() {
		for _, m := range metrics {
			if err := c.send(m.Properties.Address, fmt.Sprint(m.Value)); err != nil {
				cb(err)
				return
			}
		}
		cb(nil)
	}()
}

// StartSubscription subscribes to tightening results once per session; the
// controller pushes every result afterwards.
func (c *OpenProtocolConnection) StartSubscription(metrics []*model.Metric, format model.PayloadFormat, delimiter string, interval time.Duration, deviceId string, cb func(error)) {
	c.connMu.Lock()
	already := c.subbed
	c.subbed = true
	c.connMu.Unlock()
	if !already {
		if err := c.send(midTighteningSub, ""); err != nil {
			cb(err)
			return
		}
	}
	cb(nil)
}

func (c *OpenProtocolConnection) StopSubscription(deviceId string, cb func(error)) {
	cb(nil)
}
