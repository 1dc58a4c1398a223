package records

import (
	"context"
	"errors"
	"testing"

	"github.com/heartmarshall/fedrecords/internal/domain"
)

func TestExpand_ViaAndForward(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	a := mustCreate(t, e, "folders", domain.Data{"name": "A"})
	b := mustCreate(t, e, "folders", domain.Data{"name": "B", "parent": a.ID()})
	doc1 := mustCreate(t, e, "docs", domain.Data{"title": "1", "folder": a.ID()})
	doc2 := mustCreate(t, e, "docs", domain.Data{"title": "2", "folder": b.ID()})
	gone := mustCreate(t, e, "docs", domain.Data{"title": "gone", "folder": a.ID()})
	if _, err := e.Delete(ctx, "docs", gone.ID()); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	node := domain.NewExpanded(a)
	if err := e.Expand(ctx, node, []string{"docs", "children.docs"}); err != nil {
		t.Fatalf("Expand: %v", err)
	}

	docs := node.Expand["docs"]
	if !docs.Many || len(docs.Records) != 1 || docs.Records[0].ID() != doc1.ID() {
		t.Fatalf("A.docs = %+v", docs)
	}
	children := node.Expand["children"]
	if len(children.Records) != 1 || children.Records[0].ID() != b.ID() {
		t.Fatalf("A.children = %+v", children)
	}
	bDocs := children.Records[0].Expand["docs"]
	if len(bDocs.Records) != 1 || bDocs.Records[0].ID() != doc2.ID() {
		t.Errorf("B.docs = %+v", bDocs)
	}
	if _, ok := a.Data["expand"]; ok {
		t.Error("expansion leaked into record data")
	}

	// Re-expansion chains onto the nodes resolved earlier.
	bNode := children.Records[0]
	if err := e.Expand(ctx, node, []string{"children.parent"}); err != nil {
		t.Fatalf("Expand again: %v", err)
	}
	if node.Expand["children"].Records[0] != bNode {
		t.Error("children were re-fetched instead of reused")
	}
	if p := bNode.Expand["parent"].One(); p == nil || p.ID() != a.ID() {
		t.Errorf("B.parent = %+v", p)
	}
	if _, ok := bNode.Expand["docs"]; !ok {
		t.Error("earlier expansion of B.docs was lost")
	}

	forward := domain.NewExpanded(doc2)
	if err := e.Expand(ctx, forward, []string{"folder.parent"}); err != nil {
		t.Fatalf("Expand forward: %v", err)
	}
	folder := forward.Expand["folder"]
	if folder.Many || folder.One().ID() != b.ID() {
		t.Fatalf("doc2.folder = %+v", folder)
	}
	if folder.One().Expand["parent"].One().ID() != a.ID() {
		t.Error("doc2.folder.parent should be A")
	}

	orphan := domain.NewExpanded(a)
	if err := e.Expand(ctx, orphan, []string{"parent"}); err != nil {
		t.Fatalf("Expand empty forward: %v", err)
	}
	if x, ok := orphan.Expand["parent"]; !ok || x.One() != nil {
		t.Errorf("unset forward relation should expand to nothing, got %+v", x)
	}
}

func TestExpand_DepthLimit(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	parent := ""
	var last *domain.Record
	for _, name := range []string{"A", "B", "C", "D", "E", "F"} {
		last = mustCreate(t, e, "folders", domain.Data{"name": name, "parent": parent})
		parent = last.ID()
	}

	node := domain.NewExpanded(last)
	err := e.ExpandDepth(ctx, node, []string{"parent.parent.parent.parent.parent"}, 3)
	if err != nil {
		t.Fatalf("ExpandDepth: %v", err)
	}

	var names []string
	for cur := node; ; {
		x, ok := cur.Expand["parent"]
		if !ok {
			break
		}
		cur = x.One()
		names = append(names, cur.String("name"))
	}
	want := []string{"E", "D", "C", "B"}
	if len(names) != len(want) {
		t.Fatalf("expanded chain = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expanded chain = %v, want %v", names, want)
		}
	}

	shallow := domain.NewExpanded(last)
	if err := e.ExpandDepth(ctx, shallow, []string{"parent.parent"}, 0); err != nil {
		t.Fatalf("ExpandDepth 0: %v", err)
	}
	if len(shallow.Expand["parent"].One().Expand) != 0 {
		t.Error("depth 0 should resolve only the first segment")
	}
}

func TestExpand_Errors(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	doc := mustCreate(t, e, "docs", domain.Data{"title": "x", "folder": "urn:folders:404@a.test"})

	tests := []struct {
		name string
		path string
		want error
	}{
		{"unknown field", "nope", domain.ErrInvalidExpand},
		{"not a relation", "title", domain.ErrInvalidExpand},
		{"dangling target on nested path", "folder.parent", domain.ErrBrokenReference},
		{"dangling target", "folder", domain.ErrBrokenReference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := e.Expand(ctx, domain.NewExpanded(doc), []string{tt.path})
			if !errors.Is(err, tt.want) {
				t.Errorf("Expand(%q) error = %v, want %v", tt.path, err, tt.want)
			}
		})
	}
}

func TestFind_WithExpand(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	a := mustCreate(t, e, "folders", domain.Data{"name": "A"})
	for _, title := range []string{"1", "2", "3"} {
		mustCreate(t, e, "docs", domain.Data{"title": title, "folder": a.ID()})
	}

	page, err := e.Find(ctx, "docs", domain.FindOptions{Expand: []string{"folder.docs"}})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(page.Records) != 3 {
		t.Fatalf("got %d records", len(page.Records))
	}
	for _, r := range page.Records {
		f := r.Expand["folder"].One()
		if f == nil || f.ID() != a.ID() {
			t.Fatalf("%s.folder = %+v", r.ID(), f)
		}
		if n := len(f.Expand["docs"].Records); n != 3 {
			t.Errorf("%s.folder.docs has %d records, want 3", r.ID(), n)
		}
	}
}
