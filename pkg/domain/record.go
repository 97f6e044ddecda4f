package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// RawRecord is one unparsed audit message as delivered by a transport.
type RawRecord struct {
	// Type is the record type code from the netlink header. Text sources
	// resolve it from the type= token on a best effort basis.
	Type RecordType

	// Data is the payload text, starting at the "audit(...)" preamble for
	// netlink sources or holding the whole line for text sources.
	Data string

	// Seq is a monotonic arrival counter assigned by the transport.
	Seq uint64
}

// Field is a single key=value pair from an audit record. Values keep their
// source form, including surrounding double quotes.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FieldList holds a record's fields in source order. Duplicate keys are
// rejected at parse time, so a slice is sufficient and keeps the order a
// map would lose.
type FieldList []Field

// Get returns the value for key and whether it was present.
func (fl FieldList) Get(key string) (string, bool) {
	for _, f := range fl {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// MarshalJSON encodes the fields as a JSON object in source order.
func (fl FieldList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fl {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object back into an ordered field list.
// Object key order is preserved by decoding token by token.
func (fl *FieldList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("field list: expected object, got %v", tok)
	}
	out := FieldList{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("field list: expected string key, got %v", keyTok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return err
		}
		out = append(out, Field{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*fl = out
	return nil
}

// AuditRecord is one parsed record of the kernel audit stream.
type AuditRecord struct {
	Type      RecordType `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	Serial    uint64     `json:"serial"`
	Fields    FieldList  `json:"fields"`
}

// Key returns the correlation key that groups this record with the other
// records describing the same kernel action.
func (r *AuditRecord) Key() CorrelationKey {
	return CorrelationKey{Time: r.Timestamp.UnixMilli(), Serial: r.Serial}
}

// Field returns the value of the named field and whether it was present.
func (r *AuditRecord) Field(key string) (string, bool) {
	return r.Fields.Get(key)
}

// Preamble renders the "audit(<sec>.<msec>:<serial>)" header the kernel
// stamped on this record.
func (r *AuditRecord) Preamble() string {
	ms := r.Timestamp.UnixMilli()
	return fmt.Sprintf("audit(%d.%03d:%d)", ms/1000, ms%1000, r.Serial)
}

// CorrelationKey identifies the logical kernel action a record belongs to.
// The kernel stamps every record of one action with the same millisecond
// timestamp and serial, so the pair groups records regardless of how they
// interleave with other actions on the wire.
type CorrelationKey struct {
	// Time is the event timestamp in Unix milliseconds. Audit preambles
	// carry exactly millisecond precision, so the conversion is lossless
	// and the struct stays directly comparable as a map key.
	Time   int64  `json:"time"`
	Serial uint64 `json:"serial"`
}

// Timestamp returns the key's timestamp as a time.Time.
func (k CorrelationKey) Timestamp() time.Time {
	return time.UnixMilli(k.Time)
}

// Before orders keys by timestamp, then serial.
func (k CorrelationKey) Before(other CorrelationKey) bool {
	if k.Time != other.Time {
		return k.Time < other.Time
	}
	return k.Serial < other.Serial
}

func (k CorrelationKey) String() string {
	return fmt.Sprintf("audit(%d.%03d:%d)", k.Time/1000, k.Time%1000, k.Serial)
}
