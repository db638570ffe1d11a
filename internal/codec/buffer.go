package codec

import (
	"bytes"
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/pkg/errors"
)

var (
	ErrOffsetOutOfRange = errors.New("byte offset out of range")
	ErrNoBitOffset      = errors.New("boolean metrics need a byte.bit offset")
)

// bufferOffset parses a fixedBuffer path: a byte offset, optionally followed
// by a dot and a bit offset ("12" or "12.3").
func bufferOffset(path string) (byteOff int, bitOff int, hasBit bool, err error) {
	bytePart, bitPart, found := strings.Cut(path, ".")
	byteOff, err = strconv.Atoi(strings.TrimSpace(bytePart))
	if err != nil {
		return 0, 0, false, errors.Wrapf(ErrBadPath, "%q", path)
	}
	if !found {
		return byteOff, 0, false, nil
	}
	bitOff, err = strconv.Atoi(strings.TrimSpace(bitPart))
	if err != nil || bitOff < 0 || bitOff > 7 {
		return 0, 0, false, errors.Wrapf(ErrBadPath, "%q", path)
	}
	return byteOff, bitOff, true, nil
}

// pdpSwap swaps the leading and trailing 16-bit word groups of the buffer in
// place, producing the 3-4-1-2 byte order: 01 02 03 04 becomes 03 04 01 02,
// and an 8-byte value swaps its two 4-byte halves. Buffers that do not split
// into two equal word groups (1- and 2-byte values) are left untouched;
// there a word swap is the identity.
func pdpSwap(b []byte) {
	if len(b) < 4 || len(b)%4 != 0 {
		return
	}
	half := len(b) / 2
	for i := 0; i < half; i++ {
		b[i], b[half+i] = b[half+i], b[i]
	}
}

// field extracts the value bytes at off in big-endian order, undoing the
// metric's declared endianness.
func field(buf []byte, off, size int, e model.Endianness) ([]byte, error) {
	if off < 0 || off+size > len(buf) {
		return nil, errors.Wrapf(ErrOffsetOutOfRange, "offset %d size %d in %d bytes", off, size, len(buf))
	}
	out := make([]byte, size)
	copy(out, buf[off:off+size])
	switch e {
	case model.LittleEndian:
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	case model.PDPEndian:
		pdpSwap(out)
	}
	return out, nil
}

// readBuffer interprets the metric's path as a byte offset and reads the
// typed value honouring the metric's endianness.
func readBuffer(buf []byte, m *model.Metric) (any, error) {
	off, bit, hasBit, err := bufferOffset(m.Properties.Path)
	if err != nil {
		return nil, err
	}
	e := m.Properties.Endianness

	switch m.Type {
	case model.DataTypeBoolean:
		if !hasBit {
			return nil, ErrNoBitOffset
		}
		if off < 0 || off >= len(buf) {
			return nil, errors.Wrapf(ErrOffsetOutOfRange, "offset %d in %d bytes", off, len(buf))
		}
		return buf[off]&(1<<uint(bit)) != 0, nil
	case model.DataTypeInt8:
		b, err := field(buf, off, 1, e)
		if err != nil {
			return nil, err
		}
		return int8(b[0]), nil
	case model.DataTypeUInt8:
		b, err := field(buf, off, 1, e)
		if err != nil {
			return nil, err
		}
		return b[0], nil
	case model.DataTypeInt16:
		b, err := field(buf, off, 2, e)
		if err != nil {
			return nil, err
		}
		return int16(binary.BigEndian.Uint16(b)), nil
	case model.DataTypeUInt16:
		b, err := field(buf, off, 2, e)
		if err != nil {
			return nil, err
		}
		return binary.BigEndian.Uint16(b), nil
	case model.DataTypeInt32:
		b, err := field(buf, off, 4, e)
		if err != nil {
			return nil, err
		}
		return int32(binary.BigEndian.Uint32(b)), nil
	case model.DataTypeUInt32:
		b, err := field(buf, off, 4, e)
		if err != nil {
			return nil, err
		}
		return binary.BigEndian.Uint32(b), nil
	case model.DataTypeInt64:
		b, err := field(buf, off, 8, e)
		if err != nil {
			return nil, err
		}
		return int64(binary.BigEndian.Uint64(b)), nil
	case model.DataTypeUInt64:
		b, err := field(buf, off, 8, e)
		if err != nil {
			return nil, err
		}
		return binary.BigEndian.Uint64(b), nil
	case model.DataTypeFloat:
		b, err := field(buf, off, 4, e)
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
	case model.DataTypeDouble:
		b, err := field(buf, off, 8, e)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case model.DataTypeDateTime:
		b, err := field(buf, off, 8, e)
		if err != nil {
			return nil, err
		}
		return time.UnixMilli(int64(binary.BigEndian.Uint64(b))), nil
	case model.DataTypeString, model.DataTypeText:
		if off < 0 || off > len(buf) {
			return nil, errors.Wrapf(ErrOffsetOutOfRange, "offset %d in %d bytes", off, len(buf))
		}
		s := buf[off:]
		if i := bytes.IndexByte(s, 0); i >= 0 {
			s = s[:i]
		}
		return string(s), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedDataType, "%s in fixedBuffer", m.Type)
	}
}

// writeBuffer encodes the metric's value into buf at its path offset. PDP
// fields are written big-endian here; the caller applies the single final
// word swap over the whole buffer.
func writeBuffer(buf []byte, m *model.Metric) error {
	off, bit, hasBit, err := bufferOffset(m.Properties.Path)
	if err != nil {
		return err
	}
	e := m.Properties.Endianness
	order := binary.ByteOrder(binary.BigEndian)
	if e == model.LittleEndian {
		order = binary.LittleEndian
	}

	size := m.Type.Size()
	if m.Type != model.DataTypeString && m.Type != model.DataTypeText {
		if off < 0 || off+size > len(buf) {
			return errors.Wrapf(ErrOffsetOutOfRange, "offset %d size %d in %d bytes", off, size, len(buf))
		}
	}

	switch m.Type {
	case model.DataTypeBoolean:
		if !hasBit {
			return ErrNoBitOffset
		}
		v, _ := m.Value.(bool)
		if v {
			buf[off] |= 1 << uint(bit)
		} else {
			buf[off] &^= 1 << uint(bit)
		}
	case model.DataTypeInt8:
		buf[off] = byte(toInt64(m.Value))
	case model.DataTypeUInt8:
		buf[off] = byte(toUint64(m.Value))
	case model.DataTypeInt16:
		order.PutUint16(buf[off:], uint16(toInt64(m.Value)))
	case model.DataTypeUInt16:
		order.PutUint16(buf[off:], uint16(toUint64(m.Value)))
	case model.DataTypeInt32:
		order.PutUint32(buf[off:], uint32(toInt64(m.Value)))
	case model.DataTypeUInt32:
		order.PutUint32(buf[off:], uint32(toUint64(m.Value)))
	case model.DataTypeInt64:
		order.PutUint64(buf[off:], uint64(toInt64(m.Value)))
	case model.DataTypeUInt64:
		order.PutUint64(buf[off:], toUint64(m.Value))
	case model.DataTypeFloat:
		f, _ := m.Value.(float32)
		order.PutUint32(buf[off:], math.Float32bits(f))
	case model.DataTypeDouble:
		f, _ := m.Value.(float64)
		order.PutUint64(buf[off:], math.Float64bits(f))
	case model.DataTypeDateTime:
		t, _ := m.Value.(time.Time)
		order.PutUint64(buf[off:], uint64(t.UnixMilli()))
	case model.DataTypeString, model.DataTypeText:
		s := toString(m.Value)
		if off < 0 || off+len(s) > len(buf) {
			return errors.Wrapf(ErrOffsetOutOfRange, "offset %d size %d in %d bytes", off, len(s), len(buf))
		}
		copy(buf[off:], s)
	default:
		return errors.Wrapf(ErrUnsupportedDataType, "%s in fixedBuffer", m.Type)
	}
	return nil
}
