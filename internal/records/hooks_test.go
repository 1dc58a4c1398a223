package records

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/heartmarshall/fedrecords/internal/domain"
)

func TestHooks_SpecificThenWildcard(t *testing.T) {
	t.Parallel()

	h := NewHooks()
	var calls []string
	record := func(name string) Hook {
		return func(context.Context, HookParams) error {
			calls = append(calls, name)
			return nil
		}
	}

	h.Register(AfterCreate, AllCollections, record("wildcard"))
	h.Register(AfterCreate, "docs", record("docs-1"))
	h.Register(AfterCreate, "docs", record("docs-2"))
	h.Register(AfterCreate, "folders", record("folders"))
	h.Register(AfterUpdate, "docs", record("update"))

	err := h.Run(context.Background(), HookParams{
		Event:  AfterCreate,
		Record: &domain.Record{Collection: "docs"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := []string{"docs-1", "docs-2", "wildcard"}; !slices.Equal(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestHooks_Unregister(t *testing.T) {
	t.Parallel()

	h := NewHooks()
	n := 0
	unregister := h.Register(BeforeDelete, AllCollections, func(context.Context, HookParams) error {
		n++
		return nil
	})

	p := HookParams{Event: BeforeDelete, Record: &domain.Record{Collection: "docs"}}
	_ = h.Run(context.Background(), p)
	unregister()
	unregister()
	_ = h.Run(context.Background(), p)

	if n != 1 {
		t.Errorf("hook ran %d times, want 1", n)
	}
}

func TestHooks_ErrorStopsChain(t *testing.T) {
	t.Parallel()

	h := NewHooks()
	boom := errors.New("boom")
	ran := false
	h.Register(BeforeCreate, "docs", func(context.Context, HookParams) error { return boom })
	h.Register(BeforeCreate, AllCollections, func(context.Context, HookParams) error {
		ran = true
		return nil
	})

	err := h.Run(context.Background(), HookParams{Event: BeforeCreate, Record: &domain.Record{Collection: "docs"}})
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want boom", err)
	}
	if ran {
		t.Error("later hooks must not run after an error")
	}
}
