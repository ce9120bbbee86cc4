// Package archive parks disconnected snapshots outside the process so an
// edit session can be resumed later, change tracking included.
package archive

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/chameleon-db/rowsync/pkg/engine"
)

// FormatVersion is written into every document
const FormatVersion = 1

type document struct {
	Version int             `json:"version"`
	SavedAt time.Time       `json:"saved_at"`
	Tables  []tableDocument `json:"tables"`
}

type tableDocument struct {
	Schema *engine.TableSchema `json:"schema"`
	Rows   []rowDocument       `json:"rows"`
}

type rowDocument struct {
	ID       uuid.UUID     `json:"id"`
	State    string        `json:"state"`
	Values   engine.Values `json:"values"`
	Original engine.Values `json:"original,omitempty"`
}

// Encode serialises every table of snap with row identities, change states
// and original values.
func Encode(snap *engine.RecordSnapshot) ([]byte, error) {
	doc := document{Version: FormatVersion, SavedAt: time.Now().UTC()}
	for _, t := range snap.Tables() {
		td := tableDocument{Schema: t.Schema(), Rows: make([]rowDocument, 0, len(t.Rows()))}
		for _, r := range t.Rows() {
			rd := rowDocument{ID: r.ID(), State: r.State().String(), Values: encodeValues(r.Values())}
			switch s := r.State().(type) {
			case engine.Modified:
				rd.Original = encodeValues(s.Original)
			case engine.Deleted:
				rd.Original = encodeValues(s.Original)
			}
			td.Rows = append(td.Rows, rd)
		}
		doc.Tables = append(doc.Tables, td)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode snapshot")
	}
	return data, nil
}

func encodeValues(values engine.Values) engine.Values {
	out := make(engine.Values, len(values))
	for k, v := range values {
		switch x := v.(type) {
		case []byte:
			out[k] = base64.StdEncoding.EncodeToString(x)
		case time.Time:
			out[k] = x.Format(time.RFC3339Nano)
		default:
			out[k] = v
		}
	}
	return out
}

// Decode rebuilds a snapshot written by Encode. Values come back typed by
// their field definitions.
func Decode(data []byte) (*engine.RecordSnapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	if doc.Version != FormatVersion {
		return nil, errors.Errorf("unsupported snapshot format version %d", doc.Version)
	}

	snap := engine.NewRecordSnapshot()
	for _, td := range doc.Tables {
		if td.Schema == nil || td.Schema.Name == "" {
			return nil, errors.New("decode snapshot: table without schema")
		}
		table := snap.AddTable(td.Schema)
		for _, rd := range td.Rows {
			values, err := decodeValues(td.Schema, rd.Values)
			if err != nil {
				return nil, errors.Wrapf(err, "table %s row %s", td.Schema.Name, rd.ID)
			}
			var original engine.Values
			if rd.Original != nil {
				if original, err = decodeValues(td.Schema, rd.Original); err != nil {
					return nil, errors.Wrapf(err, "table %s row %s original", td.Schema.Name, rd.ID)
				}
			}
			state, err := engine.ParseChangeState(rd.State, original)
			if err != nil {
				return nil, errors.Wrapf(err, "table %s row %s", td.Schema.Name, rd.ID)
			}
			table.RestoreRow(rd.ID, state, values)
		}
	}
	return snap, nil
}

func decodeValues(schema *engine.TableSchema, raw engine.Values) (engine.Values, error) {
	out := make(engine.Values, len(raw))
	for k, v := range raw {
		var ft *engine.FieldType
		if f := schema.Field(k); f != nil {
			ft = &f.Type
		}
		val, err := restoreValue(ft, v)
		if err != nil {
			return nil, errors.Wrapf(err, "field %s", k)
		}
		out[k] = val
	}
	return out, nil
}

// restoreValue converts a decoded JSON value back to the Go type the
// drivers produce for the field type. Fields without a definition get
// int64 or float64 for numbers.
func restoreValue(ft *engine.FieldType, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if ft == nil {
		if n, ok := v.(json.Number); ok {
			return number(n)
		}
		return v, nil
	}

	switch {
	case ft.Is(engine.FieldTypeInt):
		n, ok := v.(json.Number)
		if !ok {
			return nil, errors.Errorf("expected a number, got %T", v)
		}
		return n.Int64()
	case ft.Is(engine.FieldTypeFloat), ft.Is(engine.FieldTypeDecimal):
		switch x := v.(type) {
		case json.Number:
			return x.Float64()
		case string:
			return strconv.ParseFloat(x, 64)
		}
		return nil, errors.Errorf("expected a number, got %T", v)
	case ft.Is(engine.FieldTypeBool):
		b, ok := v.(bool)
		if !ok {
			return nil, errors.Errorf("expected a bool, got %T", v)
		}
		return b, nil
	case ft.Is(engine.FieldTypeTimestamp):
		s, ok := v.(string)
		if !ok {
			return nil, errors.Errorf("expected a timestamp string, got %T", v)
		}
		return time.Parse(time.RFC3339Nano, s)
	case ft.Is(engine.FieldTypeBytes):
		s, ok := v.(string)
		if !ok {
			return nil, errors.Errorf("expected base64 text, got %T", v)
		}
		return base64.StdEncoding.DecodeString(s)
	default:
		if n, ok := v.(json.Number); ok {
			return n.String(), nil
		}
		return v, nil
	}
}

func number(n json.Number) (interface{}, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	return n.Float64()
}
