// Package schema holds the collection registry and the relation index
// derived from it.
package schema

import (
	"fmt"
	"slices"

	"github.com/heartmarshall/fedrecords/internal/domain"
)

// Engine is a read-only registry of collection schemas. It is safe for
// concurrent use once constructed.
type Engine struct {
	schemas map[string]*domain.Schema
	order   []string
}

// New validates schemas and computes, for every collection, its transitive
// References and its ReferencedBy set. The input schemas are copied.
//
// Validation failures (unknown field kinds, relations to missing
// collections, via fields that do not point back) are returned as errors.
func New(schemas []*domain.Schema) (*Engine, error) {
	e := &Engine{schemas: make(map[string]*domain.Schema, len(schemas))}

	for _, s := range schemas {
		if s == nil || s.CollectionName == "" {
			return nil, fmt.Errorf("schema: collection name is required")
		}
		if _, dup := e.schemas[s.CollectionName]; dup {
			return nil, fmt.Errorf("schema: duplicate collection %q", s.CollectionName)
		}
		cp := *s
		cp.Fields = slices.Clone(s.Fields)
		cp.References = nil
		cp.ReferencedBy = nil
		e.schemas[s.CollectionName] = &cp
		e.order = append(e.order, s.CollectionName)
	}

	if err := e.validate(); err != nil {
		return nil, err
	}
	e.computeRelationships()
	return e, nil
}

func (e *Engine) validate() error {
	for _, name := range e.order {
		s := e.schemas[name]
		for _, f := range s.Fields {
			if err := f.Def.Validate(); err != nil {
				return fmt.Errorf("schema: %s.%s: %w", name, f.Name, err)
			}
			if !f.Def.IsRelation() {
				continue
			}
			target, ok := e.schemas[f.Def.Collection]
			if !ok {
				return fmt.Errorf("schema: %s.%s: relation to unknown collection %q", name, f.Name, f.Def.Collection)
			}
			if !f.Def.IsVia() {
				continue
			}
			back, ok := target.Field(f.Def.Via)
			if !ok || !back.IsForward() || back.Collection != name {
				return fmt.Errorf("schema: %s.%s: via field %s.%s must be a relation to %s",
					name, f.Name, target.CollectionName, f.Def.Via, name)
			}
		}
	}
	return nil
}

func (e *Engine) computeRelationships() {
	referencedBy := make(map[string]map[string]bool)

	for _, name := range e.order {
		e.schemas[name].References = e.references(name, map[string]bool{})

		for _, f := range e.schemas[name].Fields {
			if !f.Def.IsForward() {
				continue
			}
			if referencedBy[f.Def.Collection] == nil {
				referencedBy[f.Def.Collection] = make(map[string]bool)
			}
			referencedBy[f.Def.Collection][name] = true
		}
	}

	for target, from := range referencedBy {
		names := make([]string, 0, len(from))
		for n := range from {
			names = append(names, n)
		}
		slices.Sort(names)
		e.schemas[target].ReferencedBy = names
	}
}

// references walks relation fields depth first. onPath holds the
// collections of the current branch only; revisiting one of them ends the
// branch, so cycles terminate and the result does not depend on the order
// collections were registered in.
func (e *Engine) references(name string, onPath map[string]bool) []string {
	if onPath[name] {
		return nil
	}
	onPath[name] = true
	defer delete(onPath, name)

	var refs []string
	for _, f := range e.schemas[name].Fields {
		if !f.Def.IsRelation() {
			continue
		}
		nested := e.references(f.Def.Collection, onPath)
		if len(nested) == 0 {
			refs = append(refs, f.Def.Collection)
			continue
		}
		for _, ref := range nested {
			refs = append(refs, f.Def.Collection+"."+ref)
		}
	}
	return refs
}

// Get returns the schema of a collection.
func (e *Engine) Get(collection string) (*domain.Schema, bool) {
	s, ok := e.schemas[collection]
	return s, ok
}

// Lookup is Get that reports a missing collection as ErrUnknownCollection.
func (e *Engine) Lookup(collection string) (*domain.Schema, error) {
	s, ok := e.schemas[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCollection, collection)
	}
	return s, nil
}

// All returns every schema in registration order.
func (e *Engine) All() []*domain.Schema {
	out := make([]*domain.Schema, len(e.order))
	for i, name := range e.order {
		out[i] = e.schemas[name]
	}
	return out
}
