// Package sharing maintains, per share, the set of records reachable from
// the share's root (the dependency tree) and the change log consumed by
// subscribers.
package sharing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/heartmarshall/fedrecords/internal/domain"
	"github.com/heartmarshall/fedrecords/internal/records"
)

// Dependency is one edge of a share's dependency tree.
type Dependency struct {
	ID               string
	Share            string
	ParentID         string
	ParentCollection string
	ChildID          string
	ChildCollection  string
	Field            string
	RelationType     domain.RelationType
}

// DependencyFromRecord decodes a share_dependencies record.
func DependencyFromRecord(r *domain.Record) Dependency {
	return Dependency{
		ID:               r.ID(),
		Share:            r.String("share"),
		ParentID:         r.String("parent_id"),
		ParentCollection: r.String("parent_collection"),
		ChildID:          r.String("child_id"),
		ChildCollection:  r.String("child_collection"),
		Field:            r.String("field"),
		RelationType:     domain.RelationType(r.String("relation_type")),
	}
}

func (d Dependency) data() domain.Data {
	return domain.Data{
		"share":             d.Share,
		"parent_id":         d.ParentID,
		"parent_collection": d.ParentCollection,
		"child_id":          d.ChildID,
		"child_collection":  d.ChildCollection,
		"field":             d.Field,
		"relation_type":     string(d.RelationType),
	}
}

// RootItem is where a dependency build starts: the record to attach, the
// record it hangs under, and the relation that links them.
type RootItem struct {
	Collection   string
	RecordID     string
	Parent       *domain.Record
	Field        string
	RelationType domain.RelationType
}

// Graph builds and tears down dependency trees.
type Graph struct {
	log     *slog.Logger
	records *records.Engine
}

func NewGraph(log *slog.Logger, recs *records.Engine) *Graph {
	return &Graph{
		log:     log.With("service", "share-graph"),
		records: recs,
	}
}

// ---------------------------------------------------------------------------
// Build
// ---------------------------------------------------------------------------

// BuildShare builds the whole tree of a share record, rooted at the record
// it names.
func (g *Graph) BuildShare(ctx context.Context, share *domain.Record, emitUpdates bool) (int, error) {
	root := RootItem{
		Collection:   share.String("collection"),
		RecordID:     share.String("record_id"),
		Parent:       share,
		Field:        domain.RootField,
		RelationType: domain.RelationField,
	}
	return g.Build(ctx, root, share.ID(), emitUpdates)
}

type queued struct {
	collection   string
	id           string
	parent       *domain.Record
	field        string
	relationType domain.RelationType
}

type discovered struct {
	record   *domain.Record
	children []queued
}

// Build walks relations breadth first from root and adds one edge to the
// share for every record reached that is not yet part of it. A record
// reachable along several paths is attached under whichever path reaches it
// first. Records already in the share (and the parent itself) are treated
// as visited, so repeating a build adds nothing. With emitUpdates set, every
// new edge also logs a create update for its child.
//
// Returns the number of edges added.
func (g *Graph) Build(ctx context.Context, root RootItem, shareID string, emitUpdates bool) (int, error) {
	visited, err := g.shareMembers(ctx, shareID)
	if err != nil {
		return 0, err
	}
	if root.Parent != nil {
		visited[root.Parent.ID()] = true
	}

	level := []queued{{
		collection:   root.Collection,
		id:           root.RecordID,
		parent:       root.Parent,
		field:        root.Field,
		relationType: root.RelationType,
	}}

	added := 0
	for len(level) > 0 {
		// First discovery wins within the level, in enqueue order.
		var fresh []queued
		seen := make(map[string]bool)
		for _, item := range level {
			if visited[item.id] || seen[item.id] {
				continue
			}
			seen[item.id] = true
			fresh = append(fresh, item)
		}

		found, err := g.discoverAll(ctx, fresh)
		if err != nil {
			return added, err
		}

		var next []queued
		for i, item := range fresh {
			if found[i] == nil {
				continue
			}
			visited[item.id] = true

			dep := Dependency{
				Share:            shareID,
				ParentID:         item.parent.ID(),
				ParentCollection: item.parent.Collection,
				ChildID:          item.id,
				ChildCollection:  item.collection,
				Field:            item.field,
				RelationType:     item.relationType,
			}
			if err := g.addEdge(ctx, dep, emitUpdates); err != nil {
				return added, err
			}
			added++
			next = append(next, found[i].children...)
		}
		level = next
	}

	g.log.DebugContext(ctx, "dependency tree built",
		slog.String("share", shareID),
		slog.String("root", root.RecordID),
		slog.Int("edges", added),
	)
	return added, nil
}

// discoverAll fetches the records of a level and their related records
// concurrently. A nil entry marks a tombstoned record, which is skipped.
func (g *Graph) discoverAll(ctx context.Context, items []queued) ([]*discovered, error) {
	out := make([]*discovered, len(items))
	eg, egctx := errgroup.WithContext(ctx)
	for i, item := range items {
		eg.Go(func() error {
			rec, err := g.records.Get(egctx, item.collection, item.id)
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%w: %s %s", domain.ErrBrokenReference, item.collection, item.id)
			}
			if err != nil {
				return err
			}
			if rec.IsDeleted() {
				return nil
			}
			children, err := g.related(egctx, rec)
			if err != nil {
				return err
			}
			out[i] = &discovered{record: rec, children: children}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// related lists the records rec points at (set forward relations) and the
// live records pointing at it through via relations, in field declaration
// order.
func (g *Graph) related(ctx context.Context, rec *domain.Record) ([]queued, error) {
	var out []queued
	for _, f := range rec.Schema.Relations() {
		if f.Def.IsVia() {
			matches, err := g.records.FindAll(ctx, f.Def.Collection, records.ViaFilter(f.Def.Via, rec.ID()), "")
			if err != nil {
				return nil, err
			}
			for _, m := range matches {
				out = append(out, queued{
					collection:   f.Def.Collection,
					id:           m.ID(),
					parent:       rec,
					field:        f.Def.Via,
					relationType: domain.RelationVia,
				})
			}
			continue
		}

		target := rec.String(f.Name)
		if target == "" {
			continue
		}
		out = append(out, queued{
			collection:   f.Def.Collection,
			id:           target,
			parent:       rec,
			field:        f.Name,
			relationType: domain.RelationField,
		})
	}
	return out, nil
}

func (g *Graph) addEdge(ctx context.Context, dep Dependency, emitUpdate bool) error {
	if _, err := g.records.Create(ctx, domain.CollectionShareDependencies, dep.data()); err != nil {
		return fmt.Errorf("add dependency %s -> %s: %w", dep.ParentID, dep.ChildID, err)
	}
	if !emitUpdate {
		return nil
	}
	return g.AppendUpdate(ctx, dep.Share, dep.ChildCollection, dep.ChildID, domain.ActionCreate)
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

// Delete removes edge and, level by level, every edge of the same share
// hanging below it. Each removed edge logs a delete update for its child.
// Returns the number of edges removed.
func (g *Graph) Delete(ctx context.Context, edge Dependency) (int, error) {
	removed := 0
	seen := make(map[string]bool)
	level := []Dependency{edge}

	for len(level) > 0 {
		var parents []string
		for _, dep := range level {
			if seen[dep.ID] {
				continue
			}
			seen[dep.ID] = true

			if err := g.records.Purge(ctx, domain.CollectionShareDependencies, dep.ID); err != nil {
				return removed, err
			}
			if err := g.AppendUpdate(ctx, dep.Share, dep.ChildCollection, dep.ChildID, domain.ActionDelete); err != nil {
				return removed, err
			}
			removed++
			parents = append(parents, dep.ChildID)
		}
		if len(parents) == 0 {
			break
		}

		next, err := g.Edges(ctx, fmt.Sprintf("share = %s AND %s", quote(edge.Share), inFilter("parent_id", parents)))
		if err != nil {
			return removed, err
		}
		level = next
	}

	g.log.DebugContext(ctx, "dependency subtree removed",
		slog.String("share", edge.Share),
		slog.String("root", edge.ChildID),
		slog.Int("edges", removed),
	)
	return removed, nil
}

// ---------------------------------------------------------------------------
// Queries and log
// ---------------------------------------------------------------------------

// Edges returns the dependency edges matching filter in insertion order.
func (g *Graph) Edges(ctx context.Context, filter string) ([]Dependency, error) {
	recs, err := g.records.FindAll(ctx, domain.CollectionShareDependencies, filter, "")
	if err != nil {
		return nil, err
	}
	out := make([]Dependency, len(recs))
	for i, r := range recs {
		out[i] = DependencyFromRecord(r)
	}
	return out, nil
}

// EdgesByChild returns every edge, in any share, whose child is one of ids.
func (g *Graph) EdgesByChild(ctx context.Context, ids ...string) ([]Dependency, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return g.Edges(ctx, inFilter("child_id", ids))
}

// ShareEdges returns the edges of one share in insertion order.
func (g *Graph) ShareEdges(ctx context.Context, shareID string) ([]Dependency, error) {
	return g.Edges(ctx, "share = "+quote(shareID))
}

func (g *Graph) shareMembers(ctx context.Context, shareID string) (map[string]bool, error) {
	edges, err := g.ShareEdges(ctx, shareID)
	if err != nil {
		return nil, err
	}
	members := make(map[string]bool, len(edges))
	for _, e := range edges {
		members[e.ChildID] = true
	}
	return members, nil
}

// AppendUpdate adds an entry to the share's change log.
func (g *Graph) AppendUpdate(ctx context.Context, shareID, collection, recordID string, action domain.UpdateAction) error {
	_, err := g.records.Create(ctx, domain.CollectionShareUpdates, domain.Data{
		"share":      shareID,
		"collection": collection,
		"record_id":  recordID,
		"action":     string(action),
	})
	if err != nil {
		return fmt.Errorf("append %s update for %s: %w", action, recordID, err)
	}
	return nil
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func inFilter(field string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quote(v)
	}
	return fmt.Sprintf("%s IN (%s)", field, strings.Join(quoted, ", "))
}
