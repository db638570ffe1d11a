package connections

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/config"
	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/robinson/gos7"
	"github.com/sirupsen/logrus"
)

var ErrBadS7Address = errors.New("unparseable S7 address")

// s7Item is one parsed node-7 style address: DB1,X0.0 / DB1,W4 / DB2,R16 /
// I0.0 / Q1.2 / MW10 and friends.
type s7Item struct {
	area   byte // 'D' data block, 'I' input, 'Q' output, 'M' flag
	db     int
	kind   string // X, B, C, W, I, DW, DI, R, S
	start  int
	bit    int
	length int // string length for S
}

func (it s7Item) size() int {
	switch it.kind {
	case "X", "B", "C":
		return 1
	case "W", "I":
		return 2
	case "DW", "DI", "R":
		return 4
	case "S":
		return it.length
	default:
		return 0
	}
}

// parseS7Address understands the node-7 address syntax.
func parseS7Address(addr string) (s7Item, error) {
	it := s7Item{}
	s := strings.ToUpper(strings.TrimSpace(addr))
	if s == "" {
		return it, errors.Wrapf(ErrBadS7Address, "%q", addr)
	}

	if strings.HasPrefix(s, "DB") {
		rest, ok := strings.CutPrefix(s, "DB")
		if !ok {
			return it, errors.Wrapf(ErrBadS7Address, "%q", addr)
		}
		dbPart, itemPart, found := strings.Cut(rest, ",")
		if !found {
			return it, errors.Wrapf(ErrBadS7Address, "%q", addr)
		}
		db, err := strconv.Atoi(dbPart)
		if err != nil {
			return it, errors.Wrapf(ErrBadS7Address, "%q", addr)
		}
		it.area, it.db = 'D', db
		return parseS7Item(it, itemPart, addr)
	}

	// Area operands: I/E inputs, Q/A outputs, M flags, e.g. I0.0, QW2, MB4.
	area := s[0]
	switch area {
	case 'E':
		area = 'I'
	case 'A':
		area = 'Q'
	case 'I', 'Q', 'M':
	default:
		return it, errors.Wrapf(ErrBadS7Address, "%q", addr)
	}
	it.area = area
	rest := s[1:]
	if rest == "" {
		return it, errors.Wrapf(ErrBadS7Address, "%q", addr)
	}
	// A leading digit means a bit operand (I0.0); otherwise a width letter.
	if rest[0] >= '0' && rest[0] <= '9' {
		return parseS7Item(it, "X"+rest, addr)
	}
	return parseS7Item(it, rest, addr)
}

func parseS7Item(it s7Item, item, addr string) (s7Item, error) {
	kinds := []string{"DW", "DI", "X", "B", "C", "W", "I", "R", "S"}
	var kind, rest string
	for _, k := range kinds {
		if strings.HasPrefix(item, k) {
			kind, rest = k, item[len(k):]
			break
		}
	}
	if kind == "" {
		return it, errors.Wrapf(ErrBadS7Address, "%q", addr)
	}
	it.kind = kind

	bytePart, fracPart, hasFrac := strings.Cut(rest, ".")
	start, err := strconv.Atoi(bytePart)
	if err != nil {
		return it, errors.Wrapf(ErrBadS7Address, "%q", addr)
	}
	it.start = start

	switch {
	case kind == "X":
		if !hasFrac {
			return it, errors.Wrapf(ErrBadS7Address, "%q needs a bit offset", addr)
		}
		bit, err := strconv.Atoi(fracPart)
		if err != nil || bit < 0 || bit > 7 {
			return it, errors.Wrapf(ErrBadS7Address, "%q", addr)
		}
		it.bit = bit
	case kind == "S":
		if !hasFrac {
			return it, errors.Wrapf(ErrBadS7Address, "%q needs a length", addr)
		}
		length, err := strconv.Atoi(fracPart)
		if err != nil || length <= 0 {
			return it, errors.Wrapf(ErrBadS7Address, "%q", addr)
		}
		it.length = length
	case hasFrac:
		return it, errors.Wrapf(ErrBadS7Address, "%q", addr)
	}
	return it, nil
}

// S7Connection talks to a Siemens PLC. The item group is shared across all
// devices on the connection: each StartSubscription overwrites the group for
// that device id, and overlapping addresses are last-writer-wins.
type S7Connection struct {
	base
	details config.S7ConnDetails

	handlerMu sync.Mutex
	handler   *gos7.TCPClientHandler
	client    gos7.Client

	groupMu   sync.Mutex
	itemGroup map[string][]*model.Metric
}

func NewS7Connection(details config.S7ConnDetails, log *logrus.Logger) *S7Connection {
	if details.Port == 0 {
		details.Port = 102
	}
	return &S7Connection{
		base:      newBase(log),
		details:   details,
		itemGroup: make(map[string][]*model.Metric),
	}
}

func (c *S7Connection) Open() {
	if !c.markOpen() {
		return
	}
	go c.connect()
}

func (c *S7Connection) connect() {
	addr := fmt.Sprintf("%s:%d", c.details.Hostname, c.details.Port)
	handler := gos7.NewTCPClientHandler(addr, c.details.Rack, c.details.Slot)
	if c.details.TimeoutMs > 0 {
		handler.Timeout = time.Duration(c.details.TimeoutMs) * time.Millisecond
	}

	dial := func() error {
		if !c.isOpen() {
			return backoff.Permanent(errors.New("connection closed"))
		}
		return handler.Connect()
	}
	if err := backoff.Retry(dial, backoff.NewExponentialBackOff()); err != nil {
		c.emitError(errors.Wrapf(err, "S7 connect %s", addr))
		return
	}

	c.handlerMu.Lock()
	c.handler = handler
	c.client = gos7.NewClient(handler)
	c.handlerMu.Unlock()
	c.log.WithField("PLC", addr).Infoln("S7 connection up ✅")
	c.emitOpen()
}

func (c *S7Connection) Close() {
	if !c.markClosed() {
		return
	}
	c.stopAllPolling()
	c.handlerMu.Lock()
	if c.handler != nil {
		c.handler.Close()
		c.handler = nil
		c.client = nil
	}
	c.handlerMu.Unlock()
	c.emitClose()
}

func (c *S7Connection) readArea(it s7Item, buf []byte) error {
	c.handlerMu.Lock()
	client := c.client
	c.handlerMu.Unlock()
	if client == nil {
		return errors.New("S7 client not connected")
	}
	switch it.area {
	case 'D':
		return client.AGReadDB(it.db, it.start, len(buf), buf)
	case 'I':
		return client.AGReadEB(it.start, len(buf), buf)
	case 'Q':
		return client.AGReadAB(it.start, len(buf), buf)
	case 'M':
		return client.AGReadMB(it.start, len(buf), buf)
	default:
		return errors.Wrapf(ErrBadS7Address, "area %q", string(it.area))
	}
}

func (c *S7Connection) writeArea(it s7Item, buf []byte) error {
	c.handlerMu.Lock()
	client := c.client
	c.handlerMu.Unlock()
	if client == nil {
		return errors.New("S7 client not connected")
	}
	switch it.area {
	case 'D':
		return client.AGWriteDB(it.db, it.start, len(buf), buf)
	case 'I':
		// Writes to process inputs are known to be unreliable.
		c.log.WithField("Area", "I").Warnln("S7 write to input register, results unreliable 🔔")
		return client.AGWriteEB(it.start, len(buf), buf)
	case 'Q':
		return client.AGWriteAB(it.start, len(buf), buf)
	case 'M':
		return client.AGWriteMB(it.start, len(buf), buf)
	default:
		return errors.Wrapf(ErrBadS7Address, "area %q", string(it.area))
	}
}

// decodeItem interprets the raw PLC bytes; S7 data is big-endian.
func decodeItem(it s7Item, buf []byte) any {
	switch it.kind {
	case "X":
		return buf[0]&(1<<uint(it.bit)) != 0
	case "B":
		return buf[0]
	case "C":
		return string(buf[:1])
	case "W":
		return binary.BigEndian.Uint16(buf)
	case "I":
		return int16(binary.BigEndian.Uint16(buf))
	case "DW":
		return binary.BigEndian.Uint32(buf)
	case "DI":
		return int32(binary.BigEndian.Uint32(buf))
	case "R":
		return math.Float32frombits(binary.BigEndian.Uint32(buf))
	case "S":
		return strings.TrimRight(string(buf), "\x00")
	default:
		return nil
	}
}

// encodeItem renders a native value into PLC bytes for a write.
func encodeItem(it s7Item, value any, current byte) ([]byte, error) {
	buf := make([]byte, it.size())
	switch it.kind {
	case "X":
		v, _ := value.(bool)
		buf[0] = current
		if v {
			buf[0] |= 1 << uint(it.bit)
		} else {
			buf[0] &^= 1 << uint(it.bit)
		}
	case "B", "C":
		buf[0] = byte(toWireUint(value))
	case "W", "I":
		binary.BigEndian.PutUint16(buf, uint16(toWireUint(value)))
	case "DW", "DI":
		binary.BigEndian.PutUint32(buf, uint32(toWireUint(value)))
	case "R":
		f, ok := value.(float32)
		if !ok {
			if d, dok := value.(float64); dok {
				f = float32(d)
			}
		}
		binary.BigEndian.PutUint32(buf, math.Float32bits(f))
	case "S":
		s, _ := value.(string)
		copy(buf, s)
	default:
		return nil, errors.Wrapf(ErrBadS7Address, "kind %q", it.kind)
	}
	return buf, nil
}

func toWireUint(value any) uint64 {
	switch v := value.(type) {
	case bool:
		if v {
			return 1
		}
		return 0
	case int8:
		return uint64(uint8(v))
	case int16:
		return uint64(uint16(v))
	case int32:
		return uint64(uint32(v))
	case int64:
		return uint64(v)
	case int:
		return uint64(v)
	case uint8:
		return uint64(v)
	case uint16:
		return uint64(v)
	case uint32:
		return uint64(v)
	case uint64:
		return v
	case float32:
		return uint64(v)
	case float64:
		return uint64(v)
	default:
		return 0
	}
}

func (c *S7Connection) ReadMetrics(metrics []*model.Metric, format model.PayloadFormat, delimiter string) {
	go func() {
		obj := make(map[string]any)
		failed := false
		for _, m := range metrics {
			if !m.Properties.Readable() {
				continue
			}
			it, err := parseS7Address(m.Properties.Address)
			if err != nil {
				c.emitError(err)
				continue
			}
			buf := make([]byte, it.size())
			if err := c.readArea(it, buf); err != nil {
				c.emitError(errors.Wrapf(err, "read %s", m.Properties.Address))
				failed = true
				continue
			}
			obj[m.Properties.Address] = decodeItem(it, buf)
		}
		// PLC values are decoded right here, the codec layer is bypassed.
		c.emitData(obj, false)
		if failed {
			c.reconnect()
		}
	}()
}

// reconnect tears the transport down and dials again; devices see a close
// followed by an open.
func (c *S7Connection) reconnect() {
	c.handlerMu.Lock()
	if c.handler == nil {
		c.handlerMu.Unlock()
		return
	}
	c.handler.Close()
	c.handler = nil
	c.client = nil
	c.handlerMu.Unlock()
	c.emitClose()
	if c.isOpen() {
		go c.connect()
	}
}

func (c *S7Connection) WriteMetrics(metrics []*model.Metric, cb func(error), format model.PayloadFormat, delimiter string) {
	go func() {
		for _, m := range metrics {
			it, err := parseS7Address(m.Properties.Address)
			if err != nil {
				cb(err)
				return
			}
			var current byte
			if it.kind == "X" {
				// Bit writes read-modify-write the containing byte.
				buf := make([]byte, 1)
				if err := c.readArea(it, buf); err != nil {
					cb(errors.Wrapf(err, "read-modify %s", m.Properties.Address))
					return
				}
				current = buf[0]
			}
			buf, err := encodeItem(it, m.Value, current)
			if err != nil {
				cb(err)
				return
			}
			if err := c.writeArea(it, buf); err != nil {
				cb(errors.Wrapf(err, "write %s", m.Properties.Address))
				return
			}
		}
		cb(nil)
	}()
}

// StartSubscription replaces the connection's item group entry for this
// device and polls it. Sibling devices share the PLC transport.
func (c *S7Connection) StartSubscription(metrics []*model.Metric, format model.PayloadFormat, delimiter string, interval time.Duration, deviceId string, cb func(error)) {
	c.groupMu.Lock()
	c.itemGroup[deviceId] = metrics
	c.groupMu.Unlock()
	c.startPolling(deviceId, interval, func() {
		c.groupMu.Lock()
		group := c.itemGroup[deviceId]
		c.groupMu.Unlock()
		c.ReadMetrics(group, format, delimiter)
	}, cb)
}

func (c *S7Connection) StopSubscription(deviceId string, cb func(error)) {
	c.groupMu.Lock()
	delete(c.itemGroup, deviceId)
	c.groupMu.Unlock()
	c.stopPolling(deviceId, cb)
}
