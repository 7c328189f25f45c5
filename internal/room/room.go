// Package room holds the synchronized data model: room identifiers, timestamped entries and the documents built from
// them, plus the last-write-wins merge applied to every incoming write.
package room

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrEntryNotObject is returned when a document field is anything other than a JSON object, including null.
var ErrEntryNotObject = errors.New("entry must be a JSON object")

// Entry is a single timestamped field of a room document. Value is carried verbatim so clients can store any JSON.
type Entry struct {
	Type  string
	Value json.RawMessage
	// TS is a client supplied logical or wall clock timestamp. Zero means "oldest possible".
	TS int64
	// Extra holds any other members the client sent with the entry, such as an author, kept verbatim.
	Extra map[string]json.RawMessage
}

func (e *Entry) UnmarshalJSON(raw []byte) error {
	*e = Entry{}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return ErrEntryNotObject
	}
	for name, v := range fields {
		switch name {
		case "type":
			if err := json.Unmarshal(v, &e.Type); err != nil {
				return fmt.Errorf("failed to decode entry type: %w", err)
			}
		case "value":
			e.Value = v
		case "ts":
			if err := json.Unmarshal(v, &e.TS); err != nil {
				return fmt.Errorf("failed to decode entry ts: %w", err)
			}
		default:
			if e.Extra == nil {
				e.Extra = make(map[string]json.RawMessage)
			}
			e.Extra[name] = v
		}
	}
	return nil
}

// MarshalJSON writes type, value and ts first, omitting them when empty, followed by the extra members in key order.
func (e Entry) MarshalJSON() ([]byte, error) {
	var buff bytes.Buffer
	buff.WriteByte('{')
	write := func(name string, v []byte) {
		if buff.Len() > 1 {
			buff.WriteByte(',')
		}
		k, _ := json.Marshal(name)
		buff.Write(k)
		buff.WriteByte(':')
		buff.Write(v)
	}
	if e.Type != "" {
		v, err := json.Marshal(e.Type)
		if err != nil {
			return nil, err
		}
		write("type", v)
	}
	if len(e.Value) > 0 {
		write("value", e.Value)
	}
	if e.TS != 0 {
		write("ts", []byte(fmt.Sprint(e.TS)))
	}
	names := make([]string, 0, len(e.Extra))
	for name := range e.Extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		write(name, e.Extra[name])
	}
	buff.WriteByte('}')
	return buff.Bytes(), nil
}

// Document maps a field key to its latest entry.
type Document map[string]Entry

// Clone returns a shallow copy of the document. Entry values are immutable once decoded so the raw bytes are shared.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Sanitize maps a room id to a filesystem safe token by replacing anything outside [A-Za-z0-9_-] with an underscore.
// Distinct ids may collide, "a/b" and "a:b" both become "a_b", and such rooms share one stored document.
func Sanitize(roomID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, roomID)
}
