package records

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/heartmarshall/fedrecords/internal/adapter/memory"
	"github.com/heartmarshall/fedrecords/internal/domain"
	"github.com/heartmarshall/fedrecords/internal/schema"
)

func testSchemas(t *testing.T) *schema.Engine {
	t.Helper()
	rel := func(c string) domain.FieldDef { return domain.FieldDef{Kind: domain.KindRelation, Collection: c} }
	via := func(c, f string) domain.FieldDef {
		return domain.FieldDef{Kind: domain.KindRelation, Collection: c, Via: f}
	}
	str := domain.FieldDef{Kind: domain.KindString}

	e, err := schema.New([]*domain.Schema{
		{CollectionName: "folders", Fields: domain.Fields{
			{Name: "name", Def: str},
			{Name: "parent", Def: rel("folders")},
			{Name: "children", Def: via("folders", "parent")},
			{Name: "docs", Def: via("docs", "folder")},
		}},
		{CollectionName: "docs", Fields: domain.Fields{
			{Name: "title", Def: domain.FieldDef{Kind: domain.KindString, Required: true}},
			{Name: "folder", Def: rel("folders")},
		}},
	})
	if err != nil {
		t.Fatalf("schema.New: %v", err)
	}
	return e
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(log, memory.NewStore(), testSchemas(t), "a.test", opts...)
}

func mustCreate(t *testing.T, e *Engine, collection string, data domain.Data) *domain.Record {
	t.Helper()
	r, err := e.Create(context.Background(), collection, data)
	if err != nil {
		t.Fatalf("Create %s: %v", collection, err)
	}
	return r
}

func TestEngine_Create(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	f1 := mustCreate(t, e, "folders", domain.Data{"name": "A"})
	f2 := mustCreate(t, e, "folders", domain.Data{"name": "B"})
	d1 := mustCreate(t, e, "docs", domain.Data{"title": "t"})

	if f1.ID() != "urn:folders:1@a.test" || f2.ID() != "urn:folders:2@a.test" {
		t.Errorf("folder ids = %s, %s", f1.ID(), f2.ID())
	}
	if d1.ID() != "urn:docs:1@a.test" {
		t.Errorf("doc id = %s", d1.ID())
	}
	if f1.Host() != "a.test" {
		t.Errorf("host = %q", f1.Host())
	}
	if f1.String("created_at") == "" || f1.String("created_at") != f1.String("modified_at") {
		t.Errorf("timestamps = %v", f1.Data)
	}
	if !(f1.String("created_at") < f2.String("created_at")) {
		t.Error("created_at must be strictly increasing")
	}

	stored, err := e.Get(ctx, "folders", f1.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.String("name") != "A" || stored.Schema == nil {
		t.Errorf("stored = %+v", stored)
	}

	keep := mustCreate(t, e, "folders", domain.Data{"id": "urn:folders:9@b.test", "host": "b.test", "created_at": "2020-01-01T00:00:00.000000Z"})
	if keep.ID() != "urn:folders:9@b.test" || keep.Host() != "b.test" || keep.String("created_at") != "2020-01-01T00:00:00.000000Z" {
		t.Errorf("provided fields must be kept: %v", keep.Data)
	}
}

func TestEngine_CreateErrors(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Create(ctx, "nope", domain.Data{}); !errors.Is(err, domain.ErrUnknownCollection) {
		t.Errorf("unknown collection error = %v", err)
	}
	var verr *domain.ValidationError
	if _, err := e.Create(ctx, "docs", domain.Data{}); !errors.As(err, &verr) || verr.Errors[0].Field != "title" {
		t.Errorf("missing required field error = %v", err)
	}
}

func TestEngine_Update(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	var prevSeen, nextSeen string
	e.Hooks().Register(AfterUpdate, "folders", func(_ context.Context, p HookParams) error {
		prevSeen, nextSeen = p.Previous.String("name"), p.Record.String("name")
		return nil
	})

	f := mustCreate(t, e, "folders", domain.Data{"name": "A", "color": "red"})
	u, err := e.Update(ctx, "folders", f.ID(), domain.Data{"name": "A2", "id": "hijack"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if u.ID() != f.ID() {
		t.Errorf("id changed to %s", u.ID())
	}
	if u.String("name") != "A2" || u.String("color") != "red" {
		t.Errorf("merged data = %v", u.Data)
	}
	if !(u.String("modified_at") > f.String("modified_at")) {
		t.Error("modified_at not bumped")
	}
	if u.String("created_at") != f.String("created_at") {
		t.Error("created_at changed")
	}
	if prevSeen != "A" || nextSeen != "A2" {
		t.Errorf("hook saw prev=%q next=%q", prevSeen, nextSeen)
	}

	if _, err := e.Update(ctx, "folders", "urn:folders:404@a.test", domain.Data{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("update missing error = %v", err)
	}

	if _, err := e.Delete(ctx, "folders", f.ID()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := e.Update(ctx, "folders", f.ID(), domain.Data{"name": "zombie"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("update tombstoned error = %v", err)
	}
}

func TestEngine_Delete(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	var fired []HookParams
	for _, ev := range []Event{BeforeDelete, AfterDelete} {
		e.Hooks().Register(ev, AllCollections, func(_ context.Context, p HookParams) error {
			fired = append(fired, p)
			return nil
		})
	}

	f := mustCreate(t, e, "folders", domain.Data{"name": "A"})
	tomb, err := e.Delete(ctx, "folders", f.ID())
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !tomb.IsDeleted() {
		t.Error("returned record should be tombstoned")
	}
	if len(fired) != 2 || fired[0].Event != BeforeDelete || fired[1].Event != AfterDelete {
		t.Fatalf("hooks fired = %+v", fired)
	}
	if fired[1].Record.IsDeleted() {
		t.Error("afterDelete must receive pre-tombstone data")
	}

	stored, err := e.Get(ctx, "folders", f.ID())
	if err != nil {
		t.Fatalf("tombstoned record should still be readable: %v", err)
	}
	if !stored.IsDeleted() {
		t.Error("stored record not tombstoned")
	}

	again, err := e.Delete(ctx, "folders", f.ID())
	if err != nil || again != nil {
		t.Errorf("second delete = %v, %v; want no-op", again, err)
	}
	missing, err := e.Delete(ctx, "folders", "urn:folders:404@a.test")
	if err != nil || missing != nil {
		t.Errorf("delete missing = %v, %v; want no-op", missing, err)
	}
	if len(fired) != 2 {
		t.Errorf("no-op deletes must not fire hooks, got %d calls", len(fired))
	}
}

func TestEngine_UpsertAndPurge(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()
	id := "urn:folders:7@b.test"

	created, err := e.Upsert(ctx, "folders", id, domain.Data{"name": "remote", "host": "b.test"})
	if err != nil {
		t.Fatalf("Upsert create: %v", err)
	}
	if created.ID() != id || created.Host() != "b.test" {
		t.Errorf("upsert create = %v", created.Data)
	}

	updated, err := e.Upsert(ctx, "folders", id, domain.Data{"name": "renamed"})
	if err != nil {
		t.Fatalf("Upsert update: %v", err)
	}
	if updated.String("name") != "renamed" || updated.String("created_at") != created.String("created_at") {
		t.Errorf("upsert update = %v", updated.Data)
	}

	if err := e.Purge(ctx, "folders", id); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if _, err := e.Get(ctx, "folders", id); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get after purge error = %v", err)
	}
	if err := e.Purge(ctx, "folders", id); err != nil {
		t.Errorf("purging a missing record should be a no-op: %v", err)
	}
}

func TestEngine_CreateRejectsTakenID(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	f := mustCreate(t, e, "folders", domain.Data{"name": "A"})
	fired := 0
	e.Hooks().Register(AfterCreate, "folders", func(context.Context, HookParams) error {
		fired++
		return nil
	})

	if _, err := e.Create(ctx, "folders", domain.Data{"id": f.ID(), "name": "clobbered"}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("Create with taken id error = %v, want ErrAlreadyExists", err)
	}
	got, err := e.Get(ctx, "folders", f.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.String("name") != "A" {
		t.Errorf("record overwritten: %v", got.Data)
	}

	if _, err := e.Delete(ctx, "folders", f.ID()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := e.Create(ctx, "folders", domain.Data{"id": f.ID()}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("Create over a tombstone error = %v, want ErrAlreadyExists", err)
	}
	if fired != 0 {
		t.Errorf("rejected creates fired %d hooks", fired)
	}

	fresh, err := e.Create(ctx, "folders", domain.Data{"name": "B", "is_deleted": true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if fresh.IsDeleted() {
		t.Error("Create must not store a tombstone")
	}
}

func TestEngine_UpdateIgnoresSystemFields(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	var deletes int
	e.Hooks().Register(AfterDelete, "folders", func(context.Context, HookParams) error {
		deletes++
		return nil
	})

	f := mustCreate(t, e, "folders", domain.Data{"name": "A"})
	u, err := e.Update(ctx, "folders", f.ID(), domain.Data{
		"name":       "A2",
		"is_deleted": true,
		"host":       "evil.test",
		"created_at": "2999-01-01T00:00:00.000000Z",
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if u.IsDeleted() || u.Host() != "a.test" || u.String("created_at") != f.String("created_at") {
		t.Errorf("system fields rewritten: %v", u.Data)
	}
	if u.String("name") != "A2" {
		t.Errorf("name = %q", u.String("name"))
	}
	if deletes != 0 {
		t.Fatalf("update fired %d delete hooks", deletes)
	}

	if _, err := e.Delete(ctx, "folders", f.ID()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deletes != 1 {
		t.Errorf("delete hooks fired %d times, want 1", deletes)
	}
}

func TestEngine_UpsertTombstoneGoesThroughDelete(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	var deleted []string
	e.Hooks().Register(AfterDelete, "folders", func(_ context.Context, p HookParams) error {
		deleted = append(deleted, p.Record.ID())
		return nil
	})

	live := mustCreate(t, e, "folders", domain.Data{"name": "A"})
	rec, err := e.Upsert(ctx, "folders", live.ID(), domain.Data{"name": "ignored", "is_deleted": true})
	if err != nil {
		t.Fatalf("Upsert tombstone: %v", err)
	}
	if !rec.IsDeleted() {
		t.Errorf("upsert result = %v, want tombstone", rec.Data)
	}

	// Already tombstoned: nothing to do.
	if _, err := e.Upsert(ctx, "folders", live.ID(), domain.Data{"is_deleted": true}); err != nil {
		t.Fatalf("Upsert tombstone again: %v", err)
	}

	remote := "urn:folders:3@b.test"
	rec, err = e.Upsert(ctx, "folders", remote, domain.Data{"name": "gone", "host": "b.test", "is_deleted": true})
	if err != nil {
		t.Fatalf("Upsert remote tombstone: %v", err)
	}
	if !rec.IsDeleted() || rec.Host() != "b.test" {
		t.Errorf("remote tombstone = %v", rec.Data)
	}

	if len(deleted) != 2 || deleted[0] != live.ID() || deleted[1] != remote {
		t.Errorf("delete hooks = %v", deleted)
	}

	revived, err := e.Upsert(ctx, "folders", live.ID(), domain.Data{"name": "back"})
	if err != nil {
		t.Fatalf("Upsert revive: %v", err)
	}
	if revived.IsDeleted() || revived.String("name") != "back" {
		t.Errorf("revived = %v", revived.Data)
	}
}

func TestEngine_HookErrorAborts(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()
	deny := errors.New("denied")
	e.Hooks().Register(BeforeCreate, "folders", func(context.Context, HookParams) error { return deny })

	if _, err := e.Create(ctx, "folders", domain.Data{"id": "urn:folders:1@a.test"}); !errors.Is(err, deny) {
		t.Fatalf("Create error = %v, want denied", err)
	}
	if _, err := e.Get(ctx, "folders", "urn:folders:1@a.test"); !errors.Is(err, domain.ErrNotFound) {
		t.Error("record must not be stored when beforeCreate fails")
	}
}

func TestEngine_FindDefaultsAndFindOne(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, WithDefaultPerPage(2))
	ctx := context.Background()
	for _, name := range []string{"c", "a", "b"} {
		mustCreate(t, e, "folders", domain.Data{"name": name})
	}

	page, err := e.Find(ctx, "folders", domain.FindOptions{Sort: "name"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if page.Page != 1 || page.PerPage != 2 || len(page.Records) != 2 {
		t.Fatalf("page = %+v", page)
	}
	if page.Records[0].String("name") != "a" || page.Records[1].String("name") != "b" {
		t.Errorf("sorted names = %s, %s", page.Records[0].String("name"), page.Records[1].String("name"))
	}

	all, err := e.FindAll(ctx, "folders", "", "-name")
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(all) != 3 || all[0].String("name") != "c" {
		t.Errorf("FindAll returned %d records", len(all))
	}

	one, err := e.FindOne(ctx, "folders", domain.FindOptions{Filter: "name = 'b'"})
	if err != nil || one.String("name") != "b" {
		t.Errorf("FindOne = %v, %v", one, err)
	}
	if _, err := e.FindOne(ctx, "folders", domain.FindOptions{Filter: "name = 'zzz'"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("FindOne miss error = %v", err)
	}
	if _, err := e.Find(ctx, "folders", domain.FindOptions{Filter: "name =="}); !errors.Is(err, domain.ErrInvalidFilter) {
		t.Errorf("bad filter error = %v", err)
	}
}

func TestEngine_NowStrictlyIncreasing(t *testing.T) {
	t.Parallel()

	frozen := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEngine(t, WithClock(func() time.Time { return frozen }))

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := e.Now()
			mu.Lock()
			seen[ts] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != 50 {
		t.Errorf("got %d distinct timestamps, want 50", len(seen))
	}
}

func TestEngine_EnsureCollections(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	if err := e.EnsureCollections(context.Background()); err != nil {
		t.Fatalf("EnsureCollections: %v", err)
	}
	if err := e.EnsureCollections(context.Background()); err != nil {
		t.Fatalf("EnsureCollections twice: %v", err)
	}
}
