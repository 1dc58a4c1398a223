// Package memory is a process-local record store.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/heartmarshall/fedrecords/internal/domain"
	"github.com/heartmarshall/fedrecords/internal/filter"
)

type collection struct {
	order []string
	rows  map[string]domain.Data
}

// Store keeps records in maps, preserving insertion order per collection.
// Rows are copied on the way in and out. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

func NewStore() *Store {
	return &Store{collections: make(map[string]*collection)}
}

// coll returns the named collection, creating it when create is set.
// Callers hold the appropriate lock.
func (s *Store) coll(name string, create bool) *collection {
	c, ok := s.collections[name]
	if !ok && create {
		c = &collection{rows: make(map[string]domain.Data)}
		s.collections[name] = c
	}
	return c
}

func (s *Store) Get(_ context.Context, name, id string) (domain.Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.coll(name, false)
	if c == nil {
		return nil, fmt.Errorf("memory: %s %s: %w", name, id, domain.ErrNotFound)
	}
	d, ok := c.rows[id]
	if !ok {
		return nil, fmt.Errorf("memory: %s %s: %w", name, id, domain.ErrNotFound)
	}
	return d.Clone(), nil
}

// Set inserts or replaces a row. Replacing keeps the row's original
// position in insertion order.
func (s *Store) Set(_ context.Context, name, id string, data domain.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.coll(name, true)
	if _, exists := c.rows[id]; !exists {
		c.order = append(c.order, id)
	}
	c.rows[id] = data.Clone()
	return nil
}

func (s *Store) Delete(_ context.Context, name, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.coll(name, false)
	if c == nil {
		return nil
	}
	if _, ok := c.rows[id]; !ok {
		return nil
	}
	delete(c.rows, id)
	c.order = slices.DeleteFunc(c.order, func(x string) bool { return x == id })
	return nil
}

func (s *Store) List(_ context.Context, name string) ([]domain.Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(name), nil
}

func (s *Store) Find(_ context.Context, name string, opts domain.FindOptions) ([]domain.Data, error) {
	s.mu.RLock()
	rows := s.snapshot(name)
	s.mu.RUnlock()

	return filter.Select(rows, opts)
}

func (s *Store) snapshot(name string) []domain.Data {
	c := s.coll(name, false)
	if c == nil {
		return []domain.Data{}
	}
	out := make([]domain.Data, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.rows[id].Clone())
	}
	return out
}

// CreateCollection is a no-op beyond registering the name; rows are
// schemaless.
func (s *Store) CreateCollection(_ context.Context, name string, _ domain.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coll(name, true)
	return nil
}

func (s *Store) AddFields(context.Context, string, domain.Fields) error { return nil }

// RemoveFields drops the named fields from every row.
func (s *Store) RemoveFields(_ context.Context, name string, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.coll(name, false)
	if c == nil {
		return nil
	}
	for _, row := range c.rows {
		for _, f := range names {
			delete(row, f)
		}
	}
	return nil
}
