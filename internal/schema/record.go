package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field names the sync core reads from every record.
const (
	FieldID        = "id"
	FieldUpdatedAt = "updatedAt"
	FieldDeleted   = "_deleted"
)

// timeLayout matches the ISO-8601 form written by the web clients
// (millisecond precision, always UTC).
const timeLayout = "2006-01-02T15:04:05.000Z"

// Record is one entity of a collection.
type Record map[string]json.RawMessage

// RecordFrom builds a record from plain Go values.
func RecordFrom(fields map[string]any) (Record, error) {
	r := make(Record, len(fields))
	for k, v := range fields {
		if err := r.Set(k, v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewRecord builds a record for a new entity, assigning an id (unless one
// is supplied) and stamping updatedAt with now.
func NewRecord(fields map[string]any, now time.Time) (Record, error) {
	r, err := RecordFrom(fields)
	if err != nil {
		return nil, err
	}
	if r.ID() == "" {
		if err := r.Set(FieldID, NewID(now)); err != nil {
			return nil, err
		}
	}
	if err := r.Touch(now); err != nil {
		return nil, err
	}
	return r, nil
}

// ID returns the record id, or "" when the record has none.
// Legacy records with numeric ids are reported in their literal form.
func (r Record) ID() string {
	raw, ok := r[FieldID]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// Key identifies the record for matching across snapshots. Unlike ID it
// keeps the JSON type, so the numeric id 1 and the string id "1" are
// different records. It is "" when the record has no usable id.
func (r Record) Key() string {
	raw, ok := r[FieldID]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return ""
		}
		return "s:" + s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if f, err := n.Float64(); err == nil {
			return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "n:" + n.String()
	}
	return ""
}

// UpdatedAt returns the record's modification time. A missing or
// unparsable value yields the zero time.
func (r Record) UpdatedAt() time.Time {
	raw, ok := r[FieldUpdatedAt]
	if !ok {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseTime(s)
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

// Deleted reports whether the record is a tombstone.
func (r Record) Deleted() bool {
	raw, ok := r[FieldDeleted]
	if !ok {
		return false
	}
	var deleted bool
	if err := json.Unmarshal(raw, &deleted); err != nil {
		return false
	}
	return deleted
}

// Get decodes field into dest. It returns false when the field is missing
// or does not decode.
func (r Record) Get(field string, dest any) bool {
	raw, ok := r[field]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dest) == nil
}

// Set encodes value into field.
func (r Record) Set(field string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode field %q: %w", field, err)
	}
	r[field] = data
	return nil
}

// Touch stamps updatedAt with now.
func (r Record) Touch(now time.Time) error {
	return r.Set(FieldUpdatedAt, FormatTime(now))
}

// SoftDelete marks the record deleted and bumps updatedAt so the deletion
// wins over older live copies on other devices.
func (r Record) SoftDelete(now time.Time) error {
	if err := r.Set(FieldDeleted, true); err != nil {
		return err
	}
	return r.Touch(now)
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	dup := make(Record, len(r))
	for k, v := range r {
		dup[k] = append(json.RawMessage(nil), v...)
	}
	return dup
}

// FormatTime renders t the way records store timestamps.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a record timestamp. Full ISO-8601 timestamps and bare
// dates are accepted; anything else is the zero time.
func ParseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return time.Time{}
}

// Live returns the records that are not tombstones.
func Live(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if !r.Deleted() {
			out = append(out, r)
		}
	}
	return out
}

// Find returns the record with the given id and its index, or -1.
func Find(records []Record, id string) (Record, int) {
	for i, r := range records {
		if r.ID() == id {
			return r, i
		}
	}
	return nil, -1
}
