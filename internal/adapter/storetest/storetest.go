// Package storetest is a conformance suite shared by every Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/heartmarshall/fedrecords/internal/domain"
	"github.com/heartmarshall/fedrecords/internal/records"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) records.Store

const coll = "items"

var fields = domain.Fields{
	{Name: "group", Def: domain.FieldDef{Kind: domain.KindString}},
	{Name: "parent", Def: domain.FieldDef{Kind: domain.KindRelation, Collection: coll}},
}

func seed(t *testing.T, s records.Store) {
	t.Helper()
	ctx := context.Background()

	if err := s.CreateCollection(ctx, coll, domain.BaseFields); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if err := s.AddFields(ctx, coll, fields); err != nil {
		t.Fatalf("AddFields: %v", err)
	}
	// idempotent
	if err := s.CreateCollection(ctx, coll, domain.BaseFields); err != nil {
		t.Fatalf("CreateCollection again: %v", err)
	}

	rows := []domain.Data{
		{"id": "c", "group": "x", "n": 2, "created_at": "2024-01-01T00:00:00.000001Z"},
		{"id": "a", "group": "y", "n": 1, "created_at": "2024-01-01T00:00:00.000002Z", "parent": "c"},
		{"id": "b", "group": "x", "n": 1, "created_at": "2024-01-01T00:00:00.000003Z", "parent": "c", "is_deleted": true},
		{"id": "e", "group": "x", "n": 3, "created_at": "2024-01-01T00:00:00.000004Z"},
		{"id": "d", "group": "y", "created_at": "2024-01-01T00:00:00.000005Z"},
	}
	for _, r := range rows {
		if err := s.Set(ctx, coll, r.String("id"), r); err != nil {
			t.Fatalf("Set %s: %v", r.String("id"), err)
		}
	}
}

func ids(rows []domain.Data) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.String("id")
	}
	return out
}

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetSetRoundTrip", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		ctx := context.Background()

		got, err := s.Get(ctx, coll, "a")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.String("group") != "y" || got.String("parent") != "c" {
			t.Errorf("Get = %v", got)
		}

		got["group"] = "mutated"
		again, _ := s.Get(ctx, coll, "a")
		if again.String("group") != "y" {
			t.Error("mutating a returned row must not change the store")
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		_, err := s.Get(context.Background(), coll, "zzz")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Get missing error = %v, want ErrNotFound", err)
		}
	})

	t.Run("ListInsertionOrder", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		ctx := context.Background()

		// overwrite keeps position
		if err := s.Set(ctx, coll, "c", domain.Data{"id": "c", "group": "z"}); err != nil {
			t.Fatalf("Set: %v", err)
		}
		rows, err := s.List(ctx, coll)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if want := []string{"c", "a", "b", "e", "d"}; !slices.Equal(ids(rows), want) {
			t.Errorf("List = %v, want %v", ids(rows), want)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		ctx := context.Background()

		if err := s.Delete(ctx, coll, "a"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := s.Delete(ctx, coll, "a"); err != nil {
			t.Fatalf("Delete twice: %v", err)
		}
		if _, err := s.Get(ctx, coll, "a"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Get after delete error = %v", err)
		}
		rows, _ := s.List(ctx, coll)
		if want := []string{"c", "b", "e", "d"}; !slices.Equal(ids(rows), want) {
			t.Errorf("List = %v, want %v", ids(rows), want)
		}
	})

	t.Run("Find", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		tests := []struct {
			name string
			opts domain.FindOptions
			want []string
		}{
			{"all", domain.FindOptions{Page: 1, PerPage: 500}, []string{"c", "a", "b", "e", "d"}},
			{"eq", domain.FindOptions{Filter: "group = 'x'"}, []string{"c", "b", "e"}},
			{"and", domain.FindOptions{Filter: "group = 'x' AND n > 1"}, []string{"c", "e"}},
			{"left fold", domain.FindOptions{Filter: "group = 'y' OR n = 2 AND parent = 'c'"}, []string{"a"}},
			{"in", domain.FindOptions{Filter: `id IN ("a", "d", "zzz")`}, []string{"a", "d"}},
			{"neq missing field", domain.FindOptions{Filter: "is_deleted != true"}, []string{"c", "a", "e", "d"}},
			{"timestamp cursor", domain.FindOptions{Filter: "created_at > '2024-01-01T00:00:00.000003Z'", Sort: "created_at"}, []string{"e", "d"}},
			{"sort desc", domain.FindOptions{Sort: "-created_at"}, []string{"d", "e", "b", "a", "c"}},
			{"sort multi", domain.FindOptions{Filter: "n >= 1", Sort: "n,-id"}, []string{"b", "a", "c", "e"}},
			{"page", domain.FindOptions{Sort: "id", Page: 2, PerPage: 2}, []string{"c", "d"}},
			{"page past end", domain.FindOptions{Sort: "id", Page: 4, PerPage: 2}, []string{}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rows, err := s.Find(context.Background(), coll, tt.opts)
				if err != nil {
					t.Fatalf("Find: %v", err)
				}
				if !slices.Equal(ids(rows), tt.want) {
					t.Errorf("Find(%+v) = %v, want %v", tt.opts, ids(rows), tt.want)
				}
			})
		}
	})

	t.Run("FindInvalidFilter", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		_, err := s.Find(context.Background(), coll, domain.FindOptions{Filter: "group ="})
		if !errors.Is(err, domain.ErrInvalidFilter) {
			t.Errorf("Find error = %v, want ErrInvalidFilter", err)
		}
	})

	t.Run("FindEmptyCollection", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.CreateCollection(ctx, "empty", domain.BaseFields); err != nil {
			t.Fatalf("CreateCollection: %v", err)
		}
		rows, err := s.Find(ctx, "empty", domain.FindOptions{Filter: "id = 'x'"})
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if len(rows) != 0 {
			t.Errorf("Find = %v, want empty", ids(rows))
		}
	})

	t.Run("RemoveFields", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		ctx := context.Background()

		if err := s.RemoveFields(ctx, coll, []string{"group"}); err != nil {
			t.Fatalf("RemoveFields: %v", err)
		}
		got, err := s.Get(ctx, coll, "a")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if _, ok := got["group"]; ok {
			t.Errorf("group still present: %v", got)
		}
		if got.String("parent") != "c" {
			t.Errorf("unrelated field lost: %v", got)
		}
	})
}
