package connections

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/config"
	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MTConnectConnection polls an MTConnect agent. A metric's address is the
// agent request (usually "current" or "probe"); the XML response is selected
// into metrics via XPath paths.
type MTConnectConnection struct {
	base
	details config.MTConnectConnDetails
	client  *http.Client
}

func NewMTConnectConnection(details config.MTConnectConnDetails, log *logrus.Logger) *MTConnectConnection {
	timeout := time.Duration(details.Timeout) * time.Millisecond
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &MTConnectConnection{
		base:    newBase(log),
		details: details,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *MTConnectConnection) Open() {
	if !c.markOpen() {
		return
	}
	c.emitOpen()
}

func (c *MTConnectConnection) Close() {
	if !c.markClosed() {
		return
	}
	c.stopAllPolling()
	c.emitClose()
}

func (c *MTConnectConnection) ReadMetrics(metrics []*model.Metric, format model.PayloadFormat, delimiter string) {
	go func() {
		obj := make(map[string]any)
		for _, addr := range readableAddresses(metrics) {
			url := strings.TrimSuffix(c.details.AgentURL, "/") + "/" + strings.TrimPrefix(addr, "/")
			resp, err := c.client.Get(url)
			if err != nil {
				c.emitError(errors.Wrapf(err, "agent %s", addr))
				continue
			}
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				c.emitError(errors.Wrapf(err, "agent %s", addr))
				continue
			}
			if resp.StatusCode >= 300 {
				c.emitError(errors.Errorf("agent %s: status %d", addr, resp.StatusCode))
				continue
			}
			obj[addr] = string(body)
		}
		c.emitData(obj, true)
	}()
}

// WriteMetrics is rejected: MTConnect agents are read-only by protocol.
func (c *MTConnectConnection) WriteMetrics(metrics []*model.Metric, cb func(error), format model.PayloadFormat, delimiter string) {
	cb(errors.New("MTConnect agents do not accept writes"))
}

func (c *MTConnectConnection) StartSubscription(metrics []*model.Metric, format model.PayloadFormat, delimiter string, interval time.Duration, deviceId string, cb func(error)) {
	c.startPolling(deviceId, interval, func() {
		c.ReadMetrics(metrics, format, delimiter)
	}, cb)
}

func (c *MTConnectConnection) StopSubscription(deviceId string, cb func(error)) {
	c.stopPolling(deviceId, cb)
}
