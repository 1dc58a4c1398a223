package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// FieldKind enumerates the supported field definitions.
type FieldKind string

const (
	KindRelation FieldKind = "relation"
	KindString   FieldKind = "string"
	KindDatetime FieldKind = "datetime"
)

// IsValid reports whether k is one of the known field kinds.
func (k FieldKind) IsValid() bool {
	switch k {
	case KindRelation, KindString, KindDatetime:
		return true
	}
	return false
}

// FieldDef describes one field of a collection. Collection and Via are only
// meaningful for relations; Via marks a reverse relation: every record in
// Collection whose Via field points at the owning record.
type FieldDef struct {
	Kind       FieldKind `json:"type"`
	Collection string    `json:"collection,omitempty"`
	Via        string    `json:"via,omitempty"`
	Required   bool      `json:"required,omitempty"`
}

// IsRelation reports whether the field links to another collection.
func (f FieldDef) IsRelation() bool { return f.Kind == KindRelation }

// IsVia reports whether the field is a reverse (one-to-many) relation.
func (f FieldDef) IsVia() bool { return f.Kind == KindRelation && f.Via != "" }

// IsForward reports whether the field is a forward foreign key.
func (f FieldDef) IsForward() bool { return f.Kind == KindRelation && f.Via == "" }

// Validate checks the definition in isolation. Cross-collection checks
// (does the target exist) happen in the schema engine.
func (f FieldDef) Validate() error {
	if !f.Kind.IsValid() {
		return fmt.Errorf("unknown field type %q", f.Kind)
	}
	if f.Kind == KindRelation && f.Collection == "" {
		return fmt.Errorf("relation field requires a collection")
	}
	if f.Kind != KindRelation && (f.Collection != "" || f.Via != "") {
		return fmt.Errorf("%s field cannot declare collection or via", f.Kind)
	}
	return nil
}

// Field is a named field definition.
type Field struct {
	Name string
	Def  FieldDef
}

// Fields is an ordered field list. Declaration order drives traversal
// tie-breaks, so it is preserved through JSON as an object with keys in
// declaration order.
type Fields []Field

// Get returns the named field definition.
func (fs Fields) Get(name string) (FieldDef, bool) {
	for _, f := range fs {
		if f.Name == name {
			return f.Def, true
		}
	}
	return FieldDef{}, false
}

// Names returns the field names in declaration order.
func (fs Fields) Names() []string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = f.Name
	}
	return names
}

func (fs Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fs {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		def, err := json.Marshal(f.Def)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(def)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (fs *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*fs = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("fields: expected object")
	}

	var out Fields
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("fields: expected field name")
		}
		if seen[name] {
			return fmt.Errorf("fields: duplicate field %q", name)
		}
		seen[name] = true

		var def FieldDef
		if err := dec.Decode(&def); err != nil {
			return fmt.Errorf("fields: %s: %w", name, err)
		}
		out = append(out, Field{Name: name, Def: def})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*fs = out
	return nil
}

// Merge returns fs followed by the fields of add not already present.
func (fs Fields) Merge(add Fields) Fields {
	out := slices.Clone(fs)
	for _, f := range add {
		if _, ok := out.Get(f.Name); !ok {
			out = append(out, f)
		}
	}
	return out
}

// Without returns fs minus the named fields.
func (fs Fields) Without(names []string) Fields {
	return slices.DeleteFunc(slices.Clone(fs), func(f Field) bool {
		return slices.Contains(names, f.Name)
	})
}

// Schema describes one collection.
type Schema struct {
	CollectionName string `json:"collectionName"`
	Fields         Fields `json:"fields"`
	UntrackSharing bool   `json:"untrackSharing,omitempty"`

	// Filled by the schema engine.
	References   []string `json:"references,omitempty"`
	ReferencedBy []string `json:"referencedBy,omitempty"`
}

// Field returns the definition of the named field.
func (s *Schema) Field(name string) (FieldDef, bool) {
	return s.Fields.Get(name)
}

// Relations returns the relation fields in declaration order.
func (s *Schema) Relations() Fields {
	var out Fields
	for _, f := range s.Fields {
		if f.Def.IsRelation() {
			out = append(out, f)
		}
	}
	return out
}

// BaseFields are present on every collection regardless of its schema.
var BaseFields = Fields{
	{Name: FieldID, Def: FieldDef{Kind: KindString}},
	{Name: FieldCreatedAt, Def: FieldDef{Kind: KindDatetime}},
	{Name: FieldModifiedAt, Def: FieldDef{Kind: KindDatetime}},
}
