package records

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	"golang.org/x/sync/errgroup"

	"github.com/heartmarshall/fedrecords/internal/domain"
)

const (
	loaderBatch = 100
	loaderWait  = 2 * time.Millisecond
)

// Expand resolves relation paths on node using the default depth.
func (e *Engine) Expand(ctx context.Context, node *domain.Expanded, paths []string) error {
	return e.ExpandDepth(ctx, node, paths, e.depth)
}

// ExpandDepth resolves dot-separated relation paths on node. The first
// segment of every path is always resolved; further segments are followed
// while depth allows and silently dropped after that. Fields expanded by an
// earlier call are reused, and later segments hang off the existing nodes.
func (e *Engine) ExpandDepth(ctx context.Context, node *domain.Expanded, paths []string, depth int) error {
	return e.ExpandAll(ctx, []*domain.Expanded{node}, paths, depth)
}

// ExpandAll expands several nodes concurrently, sharing one batched loader
// for forward relation lookups.
func (e *Engine) ExpandAll(ctx context.Context, nodes []*domain.Expanded, paths []string, depth int) error {
	loader := e.newLoader()

	g, gctx := errgroup.WithContext(ctx)
	for _, node := range nodes {
		g.Go(func() error {
			for _, path := range paths {
				if err := e.expandPath(gctx, loader, node, strings.Split(path, "."), depth); err != nil {
					return fmt.Errorf("expand %q: %w", path, err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) expandPath(ctx context.Context, loader *recordLoader, node *domain.Expanded, segments []string, depth int) error {
	name, rest := segments[0], segments[1:]
	if node.Schema == nil {
		return fmt.Errorf("%w: %s has no schema", domain.ErrInvalidExpand, node.Collection)
	}
	def, ok := node.Schema.Field(name)
	if !ok || !def.IsRelation() {
		return fmt.Errorf("%w: %s.%s is not a relation", domain.ErrInvalidExpand, node.Collection, name)
	}

	x, done := node.Expand[name]
	if !done {
		targets, err := e.resolve(ctx, loader, node.Record, name, def)
		if err != nil {
			return err
		}
		x = domain.Expansion{Many: def.IsVia(), Records: targets}
		if node.Expand == nil {
			node.Expand = make(map[string]domain.Expansion)
		}
		node.Expand[name] = x
	}

	if len(rest) == 0 || depth <= 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, child := range x.Records {
		g.Go(func() error {
			return e.expandPath(gctx, loader, child, rest, depth-1)
		})
	}
	return g.Wait()
}

func (e *Engine) resolve(ctx context.Context, loader *recordLoader, rec *domain.Record, name string, def domain.FieldDef) ([]*domain.Expanded, error) {
	if def.IsVia() {
		recs, err := e.FindAll(ctx, def.Collection, ViaFilter(def.Via, rec.ID()), "")
		if err != nil {
			return nil, err
		}
		out := make([]*domain.Expanded, len(recs))
		for i, r := range recs {
			out[i] = domain.NewExpanded(r)
		}
		return out, nil
	}

	id := rec.String(name)
	if id == "" {
		return nil, nil
	}
	target, err := loader.Load(ctx, recordKey{collection: def.Collection, id: id})()
	if err != nil {
		return nil, err
	}
	return []*domain.Expanded{domain.NewExpanded(target)}, nil
}

// ViaFilter selects the live records whose field points at id.
func ViaFilter(field, id string) string {
	return fmt.Sprintf("%s = %s AND %s != true", field, quote(id), domain.FieldIsDeleted)
}

// IDsFilter selects records by id.
func IDsFilter(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = quote(id)
	}
	return fmt.Sprintf("%s IN (%s)", domain.FieldID, strings.Join(quoted, ", "))
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// ---------------------------------------------------------------------------
// Batched lookups
// ---------------------------------------------------------------------------

type recordKey struct {
	collection string
	id         string
}

type recordLoader = dataloader.Loader[recordKey, *domain.Record]

func (e *Engine) newLoader() *recordLoader {
	return dataloader.NewBatchedLoader(
		e.batchGet,
		dataloader.WithWait[recordKey, *domain.Record](loaderWait),
		dataloader.WithBatchCapacity[recordKey, *domain.Record](loaderBatch),
	)
}

// batchGet resolves keys with one id IN (...) query per collection.
func (e *Engine) batchGet(ctx context.Context, keys []recordKey) []*dataloader.Result[*domain.Record] {
	byCollection := make(map[string][]string)
	for _, k := range keys {
		byCollection[k.collection] = append(byCollection[k.collection], k.id)
	}

	found := make(map[recordKey]*domain.Record, len(keys))
	failed := make(map[string]error)
	for collection, ids := range byCollection {
		recs, err := e.FindAll(ctx, collection, IDsFilter(ids), "")
		if err != nil {
			failed[collection] = err
			continue
		}
		for _, r := range recs {
			found[recordKey{collection: collection, id: r.ID()}] = r
		}
	}

	results := make([]*dataloader.Result[*domain.Record], len(keys))
	for i, k := range keys {
		if err, ok := failed[k.collection]; ok {
			results[i] = &dataloader.Result[*domain.Record]{Error: err}
			continue
		}
		r, ok := found[k]
		if !ok {
			results[i] = &dataloader.Result[*domain.Record]{
				Error: fmt.Errorf("%w: %s %s", domain.ErrBrokenReference, k.collection, k.id),
			}
			continue
		}
		results[i] = &dataloader.Result[*domain.Record]{Data: r}
	}
	return results
}
