package connections

import (
	"context"
	"sync"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/codec"
	"github.com/amineamaach/edgeTranslator-SpB/internal/config"
	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// OPCUAConnection talks to an OPC UA server. Metric addresses are node ids.
// StartSubscription uses server-push monitored items instead of the default
// polling timer; the publish interval is the device's polling interval.
type OPCUAConnection struct {
	base
	details config.OPCUAConnDetails

	ctx    context.Context
	cancel context.CancelFunc

	clientMu sync.Mutex
	client   *opcua.Client
	subs     map[string]*opcua.Subscription
}

func NewOPCUAConnection(details config.OPCUAConnDetails, log *logrus.Logger) *OPCUAConnection {
	ctx, cancel := context.WithCancel(context.Background())
	return &OPCUAConnection{
		base:    newBase(log),
		details: details,
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[string]*opcua.Subscription),
	}
}

// clientOptions mirrors the endpoint-selection dance: discover endpoints,
// pick the one matching the configured mode and policy, and authenticate.
func (c *OPCUAConnection) clientOptions() ([]opcua.Option, error) {
	opts := []opcua.Option{
		opcua.SecurityMode(ua.MessageSecurityModeNone),
	}
	if c.details.SecurityMode == "" {
		return opts, nil
	}

	endpoints, err := opcua.GetEndpoints(c.ctx, c.details.Endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "fetch OPC-UA server endpoints")
	}
	mode := codec.OPCUASecurityMode(c.details.SecurityMode)
	policy := codec.OPCUASecurityPolicyURI(c.details.SecurityPolicy)
	ep := opcua.SelectEndpoint(endpoints, policy, mode)
	if ep == nil {
		return nil, errors.New("no suitable OPC-UA endpoint")
	}

	opts = []opcua.Option{
		opcua.SecurityPolicy(policy),
		opcua.SecurityMode(mode),
	}
	if c.details.CertFile != "" {
		opts = append(opts, opcua.CertificateFile(c.details.CertFile), opcua.PrivateKeyFile(c.details.KeyFile))
	}
	if c.details.UseCredentials {
		opts = append(opts,
			opcua.AuthUsername(c.details.Username, c.details.Password),
			opcua.SecurityFromEndpoint(ep, ua.UserTokenTypeUserName))
	} else {
		opts = append(opts,
			opcua.AuthAnonymous(),
			opcua.SecurityFromEndpoint(ep, ua.UserTokenTypeAnonymous))
	}
	return opts, nil
}

func (c *OPCUAConnection) Open() {
	if !c.markOpen() {
		return
	}
	go func() {
		opts, err := c.clientOptions()
		if err != nil {
			c.emitError(err)
			return
		}
		client, err := opcua.NewClient(c.details.Endpoint, opts...)
		if err != nil {
			c.emitError(errors.Wrap(err, "OPC-UA client"))
			return
		}
		if err := client.Connect(c.ctx); err != nil {
			c.emitError(errors.Wrapf(err, "OPC-UA connect %s", c.details.Endpoint))
			return
		}
		c.clientMu.Lock()
		c.client = client
		c.clientMu.Unlock()
		c.log.WithField("Endpoint", c.details.Endpoint).Infoln("OPC-UA connection up ✅")
		c.emitOpen()
	}()
}

func (c *OPCUAConnection) Close() {
	if !c.markClosed() {
		return
	}
	c.cancel()
	c.clientMu.Lock()
	if c.client != nil {
		_ = c.client.Close(context.Background())
		c.client = nil
	}
	c.subs = make(map[string]*opcua.Subscription)
	c.clientMu.Unlock()
	c.emitClose()
}

func (c *OPCUAConnection) getClient() *opcua.Client {
	c.clientMu.Lock()
	defer c.clientMu.Unlock()
	return c.client
}

func (c *OPCUAConnection) ReadMetrics(metrics []*model.Metric, format model.PayloadFormat, delimiter string) {
	go func() {
		client := c.getClient()
		if client == nil {
			c.emitError(errors.New("OPC-UA client not connected"))
			return
		}
		addrs := readableAddresses(metrics)
		nodes := make([]*ua.ReadValueID, 0, len(addrs))
		valid := make([]string, 0, len(addrs))
		for _, addr := range addrs {
			id, err := ua.ParseNodeID(addr)
			if err != nil {
				c.emitError(errors.Wrapf(err, "parse NodeID %q", addr))
				continue
			}
			nodes = append(nodes, &ua.ReadValueID{NodeID: id, AttributeID: ua.AttributeIDValue})
			valid = append(valid, addr)
		}
		if len(nodes) == 0 {
			return
		}
		resp, err := client.Read(c.ctx, &ua.ReadRequest{
			NodesToRead:        nodes,
			TimestampsToReturn: ua.TimestampsToReturnBoth,
		})
		if err != nil {
			c.emitError(errors.Wrap(err, "OPC-UA read"))
			return
		}
		obj := make(map[string]any)
		for i, dv := range resp.Results {
			if dv.Status != ua.StatusOK || dv.Value == nil {
				c.emitError(errors.Errorf("node %s: status %v", valid[i], dv.Status))
				continue
			}
			obj[valid[i]] = dv.Value.Value()
		}
		// Variants arrive decoded, no codec pass.
		c.emitData(obj, false)
	}()
}

func (c *OPCUAConnection) WriteMetrics(metrics []*model.Metric, cb func(error), format model.PayloadFormat, delimiter string) {
	go func() {
		client := c.getClient()
		if client == nil {
			cb(errors.New("OPC-UA client not connected"))
			return
		}
		writes := make([]*ua.WriteValue, 0, len(metrics))
		for _, m := range metrics {
			id, err := ua.ParseNodeID(m.Properties.Address)
			if err != nil {
				cb(errors.Wrapf(err, "parse NodeID %q", m.Properties.Address))
				return
			}
			variant, err := ua.NewVariant(m.Value)
			if err != nil {
				cb(errors.Wrapf(err, "variant for %q", m.Name))
				return
			}
			writes = append(writes, &ua.WriteValue{
				NodeID:      id,
				AttributeID: ua.AttributeIDValue,
				Value: &ua.DataValue{
					EncodingMask: ua.DataValueValue,
					Value:        variant,
				},
			})
		}
		resp, err := client.Write(c.ctx, &ua.WriteRequest{NodesToWrite: writes})
		if err != nil {
			cb(errors.Wrap(err, "OPC-UA write"))
			return
		}
		for _, status := range resp.Results {
			if status != ua.StatusOK {
				cb(errors.Errorf("OPC-UA write status %v", status))
				return
			}
		}
		cb(nil)
	}()
}

// StartSubscription overrides the polling default with a server-push
// subscription: one monitored item per readable metric address.
func (c *OPCUAConnection) StartSubscription(metrics []*model.Metric, format model.PayloadFormat, delimiter string, interval time.Duration, deviceId string, cb func(error)) {
	client := c.getClient()
	if client == nil {
		cb(errors.New("OPC-UA client not connected"))
		return
	}

	notifyCh := make(chan *opcua.PublishNotificationData, eventQueueSize)
	sub, err := client.Subscribe(c.ctx, &opcua.SubscriptionParameters{Interval: interval}, notifyCh)
	if err != nil {
		cb(errors.Wrap(err, "OPC-UA subscribe"))
		return
	}

	handles := make(map[uint32]string)
	var handle uint32
	for _, addr := range readableAddresses(metrics) {
		id, err := ua.ParseNodeID(addr)
		if err != nil {
			c.emitError(errors.Wrapf(err, "parse NodeID %q", addr))
			continue
		}
		handle++
		handles[handle] = addr
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(id, ua.AttributeIDValue, handle)
		if _, err := sub.Monitor(c.ctx, ua.TimestampsToReturnBoth, req); err != nil {
			c.emitError(errors.Wrapf(err, "monitor %q", addr))
		}
	}

	c.clientMu.Lock()
	if prev, ok := c.subs[deviceId]; ok {
		_ = prev.Cancel(c.ctx)
	}
	c.subs[deviceId] = sub
	c.clientMu.Unlock()

	go func() {
		for {
			select {
			case <-c.ctx.Done():
				return
			case notif, ok := <-notifyCh:
				if !ok {
					return
				}
				if notif.Error != nil {
					c.emitError(notif.Error)
					continue
				}
				dcn, ok := notif.Value.(*ua.DataChangeNotification)
				if !ok {
					continue
				}
				obj := make(map[string]any)
				for _, item := range dcn.MonitoredItems {
					addr, ok := handles[item.ClientHandle]
					if !ok || item.Value == nil || item.Value.Value == nil {
						continue
					}
					obj[addr] = item.Value.Value.Value()
				}
				c.emitData(obj, false)
			}
		}
	}()
	cb(nil)
}

func (c *OPCUAConnection) StopSubscription(deviceId string, cb func(error)) {
	c.clientMu.Lock()
	sub, ok := c.subs[deviceId]
	if ok {
		delete(c.subs, deviceId)
	}
	c.clientMu.Unlock()
	if ok {
		if err := sub.Cancel(c.ctx); err != nil {
			c.log.WithField("Device Id", deviceId).Warnf("Subscription could not be cancelled: %v 🔔", err)
		}
	}
	cb(nil)
}
