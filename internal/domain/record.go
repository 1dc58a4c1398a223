package domain

import (
	"encoding/json"
	"maps"
	"time"
)

// Field names present on every record.
const (
	FieldID         = "id"
	FieldHost       = "host"
	FieldCreatedAt  = "created_at"
	FieldModifiedAt = "modified_at"
	FieldIsDeleted  = "is_deleted"
)

// TimeLayout is fixed width so that timestamps order correctly as strings,
// which is how every store compares them.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a TimeLayout timestamp, falling back to RFC 3339.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Data is the field map of a single record.
type Data map[string]any

// String returns the field as a string, or "" when absent or not a string.
func (d Data) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Bool returns the field as a bool, false when absent.
func (d Data) Bool(key string) bool {
	b, _ := d[key].(bool)
	return b
}

// Clone returns a shallow copy.
func (d Data) Clone() Data {
	if d == nil {
		return Data{}
	}
	return maps.Clone(d)
}

// Record is a stored record paired with the schema of its collection.
type Record struct {
	Collection string  `json:"collection"`
	Data       Data    `json:"data"`
	Schema     *Schema `json:"-"`
}

func (r *Record) ID() string { return r.Data.String(FieldID) }

func (r *Record) Host() string { return r.Data.String(FieldHost) }

// String returns field k as a string.
func (r *Record) String(k string) string { return r.Data.String(k) }

// IsDeleted reports whether the record is tombstoned.
func (r *Record) IsDeleted() bool { return r.Data.Bool(FieldIsDeleted) }

type recordJSON struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Data       Data   `json:"data"`
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{Collection: r.Collection, ID: r.ID(), Data: r.Data})
}

// Expanded is a record together with the relation targets resolved for it.
// The record itself is never modified by expansion.
type Expanded struct {
	*Record
	Expand map[string]Expansion
}

// NewExpanded wraps r with an empty expansion map.
func NewExpanded(r *Record) *Expanded {
	return &Expanded{Record: r}
}

// Expansion is the result of resolving one relation field: a single target
// for forward relations, a list for via relations.
type Expansion struct {
	Many    bool
	Records []*Expanded
}

// One returns the single resolved record of a forward relation, or nil.
func (x Expansion) One() *Expanded {
	if len(x.Records) == 0 {
		return nil
	}
	return x.Records[0]
}

func (x Expansion) MarshalJSON() ([]byte, error) {
	if x.Many {
		if x.Records == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(x.Records)
	}
	return json.Marshal(x.One())
}

type expandedJSON struct {
	Collection string               `json:"collection"`
	ID         string               `json:"id"`
	Data       Data                 `json:"data"`
	Expand     map[string]Expansion `json:"expand,omitempty"`
}

func (e *Expanded) MarshalJSON() ([]byte, error) {
	if e == nil || e.Record == nil {
		return []byte("null"), nil
	}
	return json.Marshal(expandedJSON{
		Collection: e.Collection,
		ID:         e.ID(),
		Data:       e.Data,
		Expand:     e.Expand,
	})
}

// FindOptions controls filtered, sorted and paged scans.
type FindOptions struct {
	Filter  string
	Sort    string
	Page    int
	PerPage int
	Expand  []string
}

// Offset returns the number of rows to skip for the requested page.
func (o FindOptions) Offset() int {
	if o.Page < 1 {
		return 0
	}
	return (o.Page - 1) * o.PerPage
}

// RecordPage is one page of find results.
type RecordPage struct {
	Page    int         `json:"page"`
	PerPage int         `json:"perPage"`
	Records []*Expanded `json:"records"`
}
