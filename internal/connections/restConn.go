package connections

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/codec"
	"github.com/amineamaach/edgeTranslator-SpB/internal/config"
	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// RESTConnection polls HTTP endpoints. A metric's address is the path below
// the configured base URL; the payload is selected into metrics via each
// metric's path.
type RESTConnection struct {
	base
	details config.RESTConnDetails
	client  *http.Client
}

func NewRESTConnection(details config.RESTConnDetails, log *logrus.Logger) *RESTConnection {
	timeout := time.Duration(details.Timeout) * time.Millisecond
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &RESTConnection{
		base:    newBase(log),
		details: details,
		client:  &http.Client{Timeout: timeout},
	}
}

// Open is immediate: HTTP is connectionless, reads fail per request instead.
func (c *RESTConnection) Open() {
	if !c.markOpen() {
		return
	}
	c.emitOpen()
}

func (c *RESTConnection) Close() {
	if !c.markClosed() {
		return
	}
	c.stopAllPolling()
	c.emitClose()
}

func (c *RESTConnection) url(addr string) string {
	return strings.TrimSuffix(c.details.BaseURL, "/") + "/" + strings.TrimPrefix(addr, "/")
}

func (c *RESTConnection) ReadMetrics(metrics []*model.Metric, format model.PayloadFormat, delimiter string) {
	go func() {
		obj := make(map[string]any)
		for _, addr := range readableAddresses(metrics) {
			resp, err := c.client.Get(c.url(addr))
			if err != nil {
				c.emitError(errors.Wrapf(err, "GET %s", addr))
				continue
			}
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				c.emitError(errors.Wrapf(err, "GET %s", addr))
				continue
			}
			if resp.StatusCode >= 300 {
				c.emitError(errors.Errorf("GET %s: status %d", addr, resp.StatusCode))
				continue
			}
			obj[addr] = string(body)
		}
		c.emitData(obj, true)
	}()
}

func (c *RESTConnection) WriteMetrics(metrics []*model.Metric, cb func(error), format model.PayloadFormat, delimiter string) {
	go func() {
		// One request per address, carrying every metric bound to it.
		byAddr := make(map[string][]*model.Metric)
		var order []string
		for _, m := range metrics {
			addr := m.Properties.Address
			if _, ok := byAddr[addr]; !ok {
				order = append(order, addr)
			}
			byAddr[addr] = append(byAddr[addr], m)
		}
		for _, addr := range order {
			payload, err := codec.Encode(byAddr[addr], format, delimiter)
			if err != nil {
				cb(err)
				return
			}
			resp, err := c.client.Post(c.url(addr), contentType(format), bytes.NewReader(codecBytes(payload)))
			if err != nil {
				cb(errors.Wrapf(err, "POST %s", addr))
				return
			}
			resp.Body.Close()
			if resp.StatusCode >= 300 {
				cb(errors.Errorf("POST %s: status %d", addr, resp.StatusCode))
				return
			}
		}
		cb(nil)
	}()
}

func (c *RESTConnection) StartSubscription(metrics []*model.Metric, format model.PayloadFormat, delimiter string, interval time.Duration, deviceId string, cb func(error)) {
	c.startPolling(deviceId, interval, func() {
		c.ReadMetrics(metrics, format, delimiter)
	}, cb)
}

func (c *RESTConnection) StopSubscription(deviceId string, cb func(error)) {
	c.stopPolling(deviceId, cb)
}

func contentType(format model.PayloadFormat) string {
	switch format {
	case model.FormatJSON:
		return "application/json"
	case model.FormatXML:
		return "application/xml"
	case model.FormatBuffer, model.FormatSerialisedBuffer:
		return "application/octet-stream"
	default:
		return "text/plain"
	}
}

// codecBytes renders an Encode result as bytes regardless of which form the
// format produced.
func codecBytes(payload any) []byte {
	switch v := payload.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}
