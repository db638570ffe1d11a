package codec

import (
	"encoding/json"
	"strings"

	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// Encode renders metric values into a device payload for a write. Delimited
// returns a string, JSON and fixedBuffer return bytes. XML and
// serialisedBuffer are not implemented and return empty alongside
// ErrFormatNotSupported; the caller logs the warning.
func Encode(metrics []*model.Metric, format model.PayloadFormat, delimiter string) (any, error) {
	switch format {
	case model.FormatDelimited:
		return encodeDelimited(metrics, delimiter), nil
	case model.FormatJSON:
		return encodeJSON(metrics)
	case model.FormatBuffer:
		return encodeBuffer(metrics)
	case model.FormatXML, model.FormatSerialisedBuffer:
		return "", errors.Wrapf(ErrFormatNotSupported, "encode %s", format)
	default:
		return "", errors.Wrapf(ErrFormatNotSupported, "encode %s", format)
	}
}

func encodeDelimited(metrics []*model.Metric, delimiter string) string {
	parts := make([]string, len(metrics))
	for i, m := range metrics {
		parts[i] = cast.ToString(m.Value)
	}
	return strings.Join(parts, delimiter)
}

// pointerSegments derives JSON pointer segments from a metric's JSONPath,
// so $.sensor.temp lands at {"sensor":{"temp":…}}.
func pointerSegments(path string) []string {
	p := strings.TrimPrefix(path, "$")
	p = strings.TrimPrefix(p, ".")
	p = strings.ReplaceAll(p, "/", ".")
	if p == "" {
		return nil
	}
	return strings.Split(p, ".")
}

func encodeJSON(metrics []*model.Metric) (any, error) {
	root := make(map[string]any)
	for _, m := range metrics {
		segs := pointerSegments(m.Properties.Path)
		if len(segs) == 0 {
			// No path: a single bare value is the whole payload.
			if len(metrics) == 1 {
				return json.Marshal(wireValue(m))
			}
			segs = []string{m.Name}
		}
		node := root
		for _, seg := range segs[:len(segs)-1] {
			child, ok := node[seg].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[seg] = child
			}
			node = child
		}
		node[segs[len(segs)-1]] = wireValue(m)
	}
	return json.Marshal(root)
}

// wireValue yields the JSON-friendly form of a metric value.
func wireValue(m *model.Metric) any {
	if ds, ok := m.Value.(*model.DataSet); ok {
		rows := make([]map[string]any, 0, len(ds.Rows))
		for _, r := range ds.Rows {
			obj := make(map[string]any, len(ds.Columns))
			for i, col := range ds.Columns {
				if i < len(r) {
					obj[col] = r[i]
				}
			}
			rows = append(rows, obj)
		}
		return rows
	}
	return m.Value
}

func encodeBuffer(metrics []*model.Metric) (any, error) {
	size := 0
	anyPDP := false
	for _, m := range metrics {
		off, _, _, err := bufferOffset(m.Properties.Path)
		if err != nil {
			return nil, err
		}
		width := m.Type.Size()
		if width == 0 {
			width = len(toString(m.Value))
		}
		if off+width > size {
			size = off + width
		}
		if m.Properties.Endianness == model.PDPEndian {
			anyPDP = true
		}
	}

	buf := make([]byte, size)
	for _, m := range metrics {
		if err := writeBuffer(buf, m); err != nil {
			return nil, err
		}
	}
	// PDP fields were written big-endian; a single trailing word swap
	// produces the 3-4-1-2 order.
	if anyPDP {
		pdpSwap(buf)
	}
	return buf, nil
}

func toInt64(v any) int64 {
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0
	}
	return n
}

func toUint64(v any) uint64 {
	n, err := cast.ToUint64E(v)
	if err != nil {
		return 0
	}
	return n
}
