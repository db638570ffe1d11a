package connections

import (
	"sync"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/codec"
	"github.com/amineamaach/edgeTranslator-SpB/internal/config"
	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const wsPongWait = 60 * time.Second

// WebsocketConnection attaches to a device's websocket stream. The stream is
// push-based: every inbound message is delivered under the subscribed
// addresses and each metric's path selects within it.
type WebsocketConnection struct {
	base
	details config.WebsocketConnDetails

	connMu sync.Mutex
	conn   *websocket.Conn
	addrs  map[string][]string // deviceId -> addresses
	done   chan struct{}
}

func NewWebsocketConnection(details config.WebsocketConnDetails, log *logrus.Logger) *WebsocketConnection {
	return &WebsocketConnection{
		base:    newBase(log),
		details: details,
		addrs:   make(map[string][]string),
	}
}

func (c *WebsocketConnection) Open() {
	if !c.markOpen() {
		return
	}
	c.connMu.Lock()
	c.done = make(chan struct{})
	c.connMu.Unlock()
	go c.connectLoop()
}

func (c *WebsocketConnection) connectLoop() {
	dial := func() error {
		if !c.isOpen() {
			return backoff.Permanent(errors.New("connection closed"))
		}
		conn, _, err := websocket.DefaultDialer.Dial(c.details.URL, nil)
		if err != nil {
			return err
		}
		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()
		return nil
	}
	if err := backoff.Retry(dial, backoff.NewExponentialBackOff()); err != nil {
		c.emitError(errors.Wrapf(err, "websocket dial %s", c.details.URL))
		return
	}
	c.log.WithField("URL", c.details.URL).Infoln("Websocket connection up ✅")
	c.emitOpen()
	go c.readPump()
}

func (c *WebsocketConnection) readPump() {
	c.connMu.Lock()
	conn := c.conn
	done := c.done
	c.connMu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				c.emitClose()
				go c.connectLoop()
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		c.deliver(message)
	}
}

// deliver fans one stream message out under every subscribed address; the
// metric paths select the relevant parts.
func (c *WebsocketConnection) deliver(message []byte) {
	c.connMu.Lock()
	seen := make(map[string]bool)
	obj := make(map[string]any)
	for _, addrs := range c.addrs {
		for _, addr := range addrs {
			if !seen[addr] {
				seen[addr] = true
				obj[addr] = message
			}
		}
	}
	c.connMu.Unlock()
	c.emitData(obj, true)
}

func (c *WebsocketConnection) Close() {
	if !c.markClosed() {
		return
	}
	c.connMu.Lock()
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		c.conn = nil
	}
	c.addrs = make(map[string][]string)
	c.connMu.Unlock()
	c.emitClose()
}

// ReadMetrics cannot solicit a push stream; the pump delivers data.
func (c *WebsocketConnection) ReadMetrics(metrics []*model.Metric, format model.PayloadFormat, delimiter string) {
	c.log.Debugln("Websocket driver is push-based, one-shot read skipped")
}

func (c *WebsocketConnection) WriteMetrics(metrics []*model.Metric, cb func(error), format model.PayloadFormat, delimiter string) {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		cb(errors.New("websocket not connected"))
		return
	}
	payload, err := codec.Encode(metrics, format, delimiter)
	if err != nil {
		cb(err)
		return
	}
	cb(conn.WriteMessage(websocket.TextMessage, codecBytes(payload)))
}

func (c *WebsocketConnection) StartSubscription(metrics []*model.Metric, format model.PayloadFormat, delimiter string, interval time.Duration, deviceId string, cb func(error)) {
	c.connMu.Lock()
	c.addrs[deviceId] = readableAddresses(metrics)
	c.connMu.Unlock()
	cb(nil)
}

func (c *WebsocketConnection) StopSubscription(deviceId string, cb func(error)) {
	c.connMu.Lock()
	delete(c.addrs, deviceId)
	c.connMu.Unlock()
	cb(nil)
}
