package sharing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/heartmarshall/fedrecords/internal/domain"
	"github.com/heartmarshall/fedrecords/internal/records"
)

// Tracker keeps dependency trees and the share change log in step with
// record mutations. It listens on every collection except the untracked
// sharing bookkeeping ones.
type Tracker struct {
	log     *slog.Logger
	records *records.Engine
	graph   *Graph
}

func NewTracker(log *slog.Logger, recs *records.Engine, graph *Graph) *Tracker {
	return &Tracker{
		log:     log.With("service", "share-tracker"),
		records: recs,
		graph:   graph,
	}
}

// Attach registers the tracker's hooks and returns a function that removes
// all of them.
func (t *Tracker) Attach() (detach func()) {
	hooks := t.records.Hooks()
	unregister := []func(){
		hooks.Register(records.AfterCreate, records.AllCollections, t.tracked(t.afterCreate)),
		hooks.Register(records.AfterUpdate, records.AllCollections, t.tracked(t.afterUpdate)),
		hooks.Register(records.AfterDelete, records.AllCollections, t.tracked(t.afterDelete)),
	}
	return func() {
		for _, fn := range unregister {
			fn()
		}
	}
}

func (t *Tracker) tracked(fn records.Hook) records.Hook {
	return func(ctx context.Context, p records.HookParams) error {
		if p.Record == nil || p.Record.Schema == nil || p.Record.Schema.UntrackSharing {
			return nil
		}
		return fn(ctx, p)
	}
}

type forwardRef struct {
	field      string
	collection string
	id         string
}

func forwardRefs(rec *domain.Record) []forwardRef {
	var refs []forwardRef
	for _, f := range rec.Schema.Relations() {
		if !f.Def.IsForward() {
			continue
		}
		if id := rec.String(f.Name); id != "" {
			refs = append(refs, forwardRef{field: f.Name, collection: f.Def.Collection, id: id})
		}
	}
	return refs
}

// afterCreate lets a new record join every share that already contains a
// record it points at. The record hangs under the first such record, and
// the other records it points at join the share as its children.
func (t *Tracker) afterCreate(ctx context.Context, p records.HookParams) error {
	rec := p.Record
	refs := forwardRefs(rec)
	if len(refs) == 0 {
		return nil
	}

	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.id
	}
	edges, err := t.graph.EdgesByChild(ctx, ids...)
	if err != nil {
		return err
	}

	// Shares in order of first appearance, each with the first edge found.
	var shares []string
	anchor := make(map[string]Dependency)
	for _, e := range edges {
		if _, ok := anchor[e.Share]; ok {
			continue
		}
		anchor[e.Share] = e
		shares = append(shares, e.Share)
	}

	for _, share := range shares {
		if err := t.join(ctx, rec, refs, share, anchor[share]); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker) join(ctx context.Context, rec *domain.Record, refs []forwardRef, share string, anchor Dependency) error {
	members, err := t.graph.shareMembers(ctx, share)
	if err != nil {
		return err
	}
	if members[rec.ID()] {
		return nil
	}

	field := ""
	for _, r := range refs {
		if r.id == anchor.ChildID {
			field = r.field
			break
		}
	}
	err = t.graph.addEdge(ctx, Dependency{
		Share:            share,
		ParentID:         anchor.ChildID,
		ParentCollection: anchor.ChildCollection,
		ChildID:          rec.ID(),
		ChildCollection:  rec.Collection,
		Field:            field,
		RelationType:     domain.RelationVia,
	}, true)
	if err != nil {
		return err
	}
	members[rec.ID()] = true

	for _, r := range refs {
		if members[r.id] {
			continue
		}
		target, err := t.records.Get(ctx, r.collection, r.id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if target.IsDeleted() {
			continue
		}
		err = t.graph.addEdge(ctx, Dependency{
			Share:            share,
			ParentID:         rec.ID(),
			ParentCollection: rec.Collection,
			ChildID:          r.id,
			ChildCollection:  r.collection,
			Field:            r.field,
			RelationType:     domain.RelationField,
		}, true)
		if err != nil {
			return err
		}
		members[r.id] = true
	}

	t.log.InfoContext(ctx, "record joined share",
		slog.String("share", share),
		slog.String("record", rec.ID()),
	)
	return nil
}

// afterUpdate moves the record between subtrees when one of its forward
// relations changed, then logs one update per share that still holds it.
func (t *Tracker) afterUpdate(ctx context.Context, p records.HookParams) error {
	rec, prev := p.Record, p.Previous
	if prev == nil {
		return nil
	}

	// A revived tombstone relinks through every relation it has.
	revived := prev.IsDeleted() && !rec.IsDeleted()

	var changed []forwardRef
	for _, f := range rec.Schema.Relations() {
		if !f.Def.IsForward() {
			continue
		}
		if revived || rec.String(f.Name) != prev.String(f.Name) {
			changed = append(changed, forwardRef{field: f.Name, collection: f.Def.Collection, id: rec.String(f.Name)})
		}
	}

	if len(changed) > 0 {
		if err := t.unlink(ctx, rec, changed); err != nil {
			return err
		}
		if err := t.relink(ctx, rec, changed); err != nil {
			return err
		}
	}

	edges, err := t.graph.EdgesByChild(ctx, rec.ID())
	if err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, e := range edges {
		if seen[e.Share] {
			continue
		}
		seen[e.Share] = true
		if err := t.graph.AppendUpdate(ctx, e.Share, rec.Collection, rec.ID(), domain.ActionUpdate); err != nil {
			return err
		}
	}
	return nil
}

// unlink drops the subtrees that hung the record under a parent through a
// relation that just changed.
func (t *Tracker) unlink(ctx context.Context, rec *domain.Record, changed []forwardRef) error {
	edges, err := t.graph.EdgesByChild(ctx, rec.ID())
	if err != nil {
		return err
	}
	for _, e := range edges {
		if e.RelationType != domain.RelationVia || !hasField(changed, e.Field) {
			continue
		}
		n, err := t.graph.Delete(ctx, e)
		if err != nil {
			return err
		}
		t.log.InfoContext(ctx, "record left share",
			slog.String("share", e.Share),
			slog.String("record", rec.ID()),
			slog.Int("removed", n),
		)
	}
	return nil
}

// relink attaches the record's subtree under a new target in every share
// the target belongs to.
func (t *Tracker) relink(ctx context.Context, rec *domain.Record, changed []forwardRef) error {
	for _, c := range changed {
		if c.id == "" {
			continue
		}
		edges, err := t.graph.EdgesByChild(ctx, c.id)
		if err != nil {
			return err
		}
		if len(edges) == 0 {
			continue
		}

		target, err := t.records.Get(ctx, c.collection, c.id)
		if err != nil {
			return fmt.Errorf("relink %s.%s: %w", rec.ID(), c.field, err)
		}
		root := RootItem{
			Collection:   rec.Collection,
			RecordID:     rec.ID(),
			Parent:       target,
			Field:        c.field,
			RelationType: domain.RelationVia,
		}
		for _, e := range edges {
			n, err := t.graph.Build(ctx, root, e.Share, true)
			if err != nil {
				return err
			}
			if n > 0 {
				t.log.InfoContext(ctx, "record joined share",
					slog.String("share", e.Share),
					slog.String("record", rec.ID()),
					slog.Int("added", n),
				)
			}
		}
	}
	return nil
}

// afterDelete removes every subtree the deleted record heads.
func (t *Tracker) afterDelete(ctx context.Context, p records.HookParams) error {
	edges, err := t.graph.EdgesByChild(ctx, p.Record.ID())
	if err != nil {
		return err
	}
	for _, e := range edges {
		if _, err := t.graph.Delete(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func hasField(refs []forwardRef, field string) bool {
	for _, r := range refs {
		if r.field == field {
			return true
		}
	}
	return false
}
