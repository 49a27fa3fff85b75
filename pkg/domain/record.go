package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record wraps the JSON payload of an aspect. Bytes are cloned on the way in
// and on the way out so a Record can be shared without aliasing. The zero
// value is an undefined record.
type Record struct {
	defined bool
	raw     json.RawMessage
}

// NewRecord builds a record from raw JSON. Passing a nil slice yields a
// defined but empty record; use the zero value for "not set".
func NewRecord(raw json.RawMessage) Record {
	rec := Record{defined: true}
	if raw != nil {
		rec.raw = cloneRawMessage(raw)
	}
	return rec
}

// NewRecordFromValue marshals a typed value into a Record.
func NewRecordFromValue[T any](value T) (Record, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Record{}, err
	}
	return NewRecord(raw), nil
}

// MustRecord is NewRecordFromValue for fixtures; it panics on marshal failure.
func MustRecord(value any) Record {
	rec, err := NewRecordFromValue(value)
	if err != nil {
		panic(err)
	}
	return rec
}

// Defined reports whether the record has been initialized.
func (r Record) Defined() bool {
	return r.defined
}

// IsEmpty reports whether the record contains no bytes.
func (r Record) IsEmpty() bool {
	return !r.defined || len(r.raw) == 0
}

// Raw returns a cloned copy of the underlying JSON bytes. Nil is returned when
// the record is undefined or empty.
func (r Record) Raw() json.RawMessage {
	if r.IsEmpty() {
		return nil
	}
	return cloneRawMessage(r.raw)
}

// Decode unmarshals the record into out.
func (r Record) Decode(out any) error {
	if r.IsEmpty() {
		return fmt.Errorf("record is empty")
	}
	return json.Unmarshal(r.raw, out)
}

// Canonical re-encodes the record with sorted object keys so two records with
// the same content compare byte-equal.
func (r Record) Canonical() ([]byte, error) {
	if r.IsEmpty() {
		return nil, nil
	}
	var tree any
	dec := json.NewDecoder(bytes.NewReader(r.raw))
	dec.UseNumber()
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

// Equal compares two records by canonical content.
func (r Record) Equal(other Record) bool {
	if r.IsEmpty() || other.IsEmpty() {
		return r.IsEmpty() == other.IsEmpty()
	}
	a, errA := r.Canonical()
	b, errB := other.Canonical()
	if errA != nil || errB != nil {
		return bytes.Equal(r.raw, other.raw)
	}
	return bytes.Equal(a, b)
}

func (r Record) String() string {
	if r.IsEmpty() {
		return "{}"
	}
	return string(r.raw)
}

// MarshalJSON emits the raw payload, or null when undefined.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.IsEmpty() {
		return []byte("null"), nil
	}
	return cloneRawMessage(r.raw), nil
}

// UnmarshalJSON captures the payload verbatim; a JSON null leaves the record undefined.
func (r *Record) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = Record{}
		return nil
	}
	*r = NewRecord(data)
	return nil
}

func cloneRawMessage(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	cloned := make(json.RawMessage, len(raw))
	copy(cloned, raw)
	return cloned
}
