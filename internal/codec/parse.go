// Package codec decodes raw driver payloads into typed metric values and
// encodes metric values back into device payloads. Four formats are
// supported: delimited text, JSON (JSONPath selectors), XML (XPath
// selectors) and fixed binary buffers (little/big/PDP endian).
package codec

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/antchfx/xmlquery"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

var (
	ErrFieldIndexOutOfRange = errors.New("delimited field index out of range")
)

// ParseValue decodes one metric's value out of a raw payload delivered for
// the metric's address. The raw payload may be a string, a byte buffer or an
// already-decoded native structure, depending on the driver.
func ParseValue(raw any, m *model.Metric, format model.PayloadFormat, delimiter string) (any, error) {
	switch format {
	case model.FormatDelimited:
		return parseDelimited(raw, m, delimiter)
	case model.FormatJSON:
		return parseJSON(raw, m)
	case model.FormatXML:
		return parseXML(raw, m)
	case model.FormatBuffer:
		return readBuffer(toBytes(raw), m)
	case model.FormatSerialisedBuffer:
		// Reserved format.
		return nil, nil
	default:
		return nil, errors.Wrapf(ErrFormatNotSupported, "%s", format)
	}
}

// ParseTimestamp extracts a device-side timestamp from the payload, if the
// format carries one. Only JSON payloads do, at $.timestamp; every other
// format reports no timestamp and the caller falls back to the local clock.
func ParseTimestamp(raw any, format model.PayloadFormat) (time.Time, bool) {
	if format != model.FormatJSON {
		return time.Time{}, false
	}
	doc, err := jsonDocument(raw)
	if err != nil {
		return time.Time{}, false
	}
	v, err := jsonpath.Get("$.timestamp", doc)
	if err != nil {
		return time.Time{}, false
	}
	ms, err := cast.ToInt64E(v)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func parseDelimited(raw any, m *model.Metric, delimiter string) (any, error) {
	s := toString(raw)
	if delimiter == "" {
		return Coerce(s, m.Type)
	}
	fields := strings.Split(s, delimiter)
	idx, err := strconv.Atoi(strings.TrimSpace(m.Properties.Path))
	if err != nil {
		return nil, errors.Wrapf(ErrBadPath, "%q", m.Properties.Path)
	}
	if idx < 0 || idx >= len(fields) {
		return nil, errors.Wrapf(ErrFieldIndexOutOfRange, "index %d of %d fields", idx, len(fields))
	}
	return Coerce(fields[idx], m.Type)
}

// jsonDocument yields the decoded document: strings and byte buffers are
// parsed, anything else is assumed to be decoded already.
func jsonDocument(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		var doc any
		if err := json.Unmarshal([]byte(v), &doc); err != nil {
			return nil, err
		}
		return doc, nil
	case []byte:
		var doc any
		if err := json.Unmarshal(v, &doc); err != nil {
			return nil, err
		}
		return doc, nil
	default:
		return raw, nil
	}
}

func parseJSON(raw any, m *model.Metric) (any, error) {
	doc, err := jsonDocument(raw)
	if err != nil {
		return nil, err
	}
	selected := doc
	if path := m.Properties.Path; path != "" {
		selected, err = jsonpath.Get(path, doc)
		if err != nil {
			return nil, err
		}
	}
	if m.Type == model.DataTypeDataSet {
		return parseDataSet(selected, m)
	}
	return Coerce(selected, m.Type)
}

// parseDataSet treats the selected payload as row(s) and projects the
// metric's declared column order. The declared columns and types come from
// the dataSet template held as the metric's current value.
func parseDataSet(selected any, m *model.Metric) (any, error) {
	template, _ := m.Value.(*model.DataSet)

	var rawRows []any
	switch v := selected.(type) {
	case []any:
		rawRows = v
	case map[string]any:
		rawRows = []any{v}
	default:
		return nil, errors.Errorf("dataSet payload must be object or array, got %T", selected)
	}

	ds := &model.DataSet{}
	if template != nil {
		ds.Columns = template.Columns
		ds.Types = template.Types
	}
	if len(ds.Columns) == 0 && len(rawRows) > 0 {
		if first, ok := rawRows[0].(map[string]any); ok {
			for k := range first {
				ds.Columns = append(ds.Columns, k)
			}
		}
	}

	for _, rr := range rawRows {
		obj, ok := rr.(map[string]any)
		if !ok {
			continue
		}
		row := make([]any, len(ds.Columns))
		for i, col := range ds.Columns {
			cell := obj[col]
			if i < len(ds.Types) {
				coerced, err := Coerce(cell, ds.Types[i])
				if err == nil {
					cell = coerced
				}
			}
			row[i] = cell
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

func parseXML(raw any, m *model.Metric) (any, error) {
	doc, err := xmlquery.Parse(strings.NewReader(toString(raw)))
	if err != nil {
		return nil, err
	}
	node, err := xmlquery.Query(doc, m.Properties.Path)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, nil
	}
	return Coerce(node.InnerText(), m.Type)
}
