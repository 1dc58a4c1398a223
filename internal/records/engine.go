// Package records implements schema-driven CRUD over a Store, with
// lifecycle hooks and relation expansion.
package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/heartmarshall/fedrecords/internal/domain"
	"github.com/heartmarshall/fedrecords/internal/schema"
)

const (
	DefaultPerPage     = 500
	DefaultExpandDepth = 3
)

// Store is the persistence contract. Get returns domain.ErrNotFound for a
// missing record. Find must honor filter, sort, page and perPage; List and
// Find return rows in insertion order unless sorted.
type Store interface {
	Get(ctx context.Context, collection, id string) (domain.Data, error)
	Set(ctx context.Context, collection, id string, data domain.Data) error
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection string) ([]domain.Data, error)
	Find(ctx context.Context, collection string, opts domain.FindOptions) ([]domain.Data, error)

	CreateCollection(ctx context.Context, collection string, fields domain.Fields) error
	AddFields(ctx context.Context, collection string, fields domain.Fields) error
	RemoveFields(ctx context.Context, collection string, names []string) error
}

// Engine performs record operations for one server instance.
type Engine struct {
	log     *slog.Logger
	store   Store
	schemas *schema.Engine
	host    string
	hooks   *Hooks
	seq     Sequencer
	now     func() time.Time
	perPage int
	depth   int

	clockMu sync.Mutex
	last    time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithSequencer replaces the default CounterSequencer.
func WithSequencer(s Sequencer) Option { return func(e *Engine) { e.seq = s } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithDefaultPerPage sets the page size used when FindOptions.PerPage is 0.
func WithDefaultPerPage(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.perPage = n
		}
	}
}

// WithExpandDepth sets the default expansion depth.
func WithExpandDepth(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.depth = n
		}
	}
}

// NewEngine creates an Engine. host is stamped on every record created
// locally and forms the suffix of generated URNs.
func NewEngine(log *slog.Logger, store Store, schemas *schema.Engine, host string, opts ...Option) *Engine {
	e := &Engine{
		log:     log.With("service", "records"),
		store:   store,
		schemas: schemas,
		host:    host,
		hooks:   NewHooks(),
		seq:     NewCounterSequencer(),
		now:     time.Now,
		perPage: DefaultPerPage,
		depth:   DefaultExpandDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Hooks returns the engine's hook registry.
func (e *Engine) Hooks() *Hooks { return e.hooks }

// Host returns the host this engine stamps on new records.
func (e *Engine) Host() string { return e.host }

// Schemas returns the schema registry.
func (e *Engine) Schemas() *schema.Engine { return e.schemas }

// Now returns a strictly increasing timestamp in domain.TimeLayout. Two
// calls never return the same value, which keeps created_at usable as a
// change-log cursor.
func (e *Engine) Now() string {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()

	t := e.now().UTC().Truncate(time.Microsecond)
	if !t.After(e.last) {
		t = e.last.Add(time.Microsecond)
	}
	e.last = t
	return domain.FormatTime(t)
}

// NewID generates a URN for collection.
func (e *Engine) NewID(collection string) string {
	return FormatURN(collection, e.seq.Next(collection), e.host)
}

// EnsureCollections creates every registered collection in the store and
// adds its declared fields. Both calls must be idempotent in the store.
func (e *Engine) EnsureCollections(ctx context.Context) error {
	for _, s := range e.schemas.All() {
		if err := e.store.CreateCollection(ctx, s.CollectionName, domain.BaseFields); err != nil {
			return fmt.Errorf("create collection %s: %w", s.CollectionName, err)
		}
		if err := e.store.AddFields(ctx, s.CollectionName, s.Fields); err != nil {
			return fmt.Errorf("add fields to %s: %w", s.CollectionName, err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

// Create stores a new live record, filling id, host and timestamps when
// absent. An explicit id that is already taken, even by a tombstone, is
// rejected with domain.ErrAlreadyExists; Upsert is the way to overwrite.
func (e *Engine) Create(ctx context.Context, collection string, data domain.Data) (*domain.Record, error) {
	s, err := e.schemas.Lookup(collection)
	if err != nil {
		return nil, err
	}

	d := data.Clone()
	delete(d, domain.FieldIsDeleted)
	if id := d.String(domain.FieldID); id != "" {
		_, err := e.store.Get(ctx, collection, id)
		if err == nil {
			return nil, fmt.Errorf("create %s %s: %w", collection, id, domain.ErrAlreadyExists)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("create %s %s: %w", collection, id, err)
		}
	}
	return e.create(ctx, s, d)
}

func (e *Engine) create(ctx context.Context, s *domain.Schema, d domain.Data) (*domain.Record, error) {
	collection := s.CollectionName
	if d.String(domain.FieldID) == "" {
		d[domain.FieldID] = e.NewID(collection)
	}
	if d.String(domain.FieldHost) == "" {
		d[domain.FieldHost] = e.host
	}
	now := e.Now()
	if d.String(domain.FieldCreatedAt) == "" {
		d[domain.FieldCreatedAt] = now
	}
	if d.String(domain.FieldModifiedAt) == "" {
		d[domain.FieldModifiedAt] = now
	}
	if err := validateRequired(s, d); err != nil {
		return nil, err
	}

	rec := &domain.Record{Collection: collection, Data: d, Schema: s}
	if err := e.hooks.Run(ctx, HookParams{Event: BeforeCreate, Record: rec}); err != nil {
		return nil, err
	}
	if err := e.store.Set(ctx, collection, rec.ID(), rec.Data); err != nil {
		return nil, fmt.Errorf("create %s: %w", collection, err)
	}
	if err := e.hooks.Run(ctx, HookParams{Event: AfterCreate, Record: rec}); err != nil {
		return nil, err
	}
	return rec, nil
}

// systemFields are owned by the engine. Update ignores them in a patch;
// tombstoning only happens through Delete.
var systemFields = []string{domain.FieldID, domain.FieldHost, domain.FieldCreatedAt, domain.FieldIsDeleted}

// Update merges patch into an existing live record. Missing and tombstoned
// records are reported as domain.ErrNotFound. System fields in patch are
// ignored.
func (e *Engine) Update(ctx context.Context, collection, id string, patch domain.Data) (*domain.Record, error) {
	prev, err := e.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if prev.IsDeleted() {
		return nil, fmt.Errorf("update %s %s: %w", collection, id, domain.ErrNotFound)
	}
	d := patch.Clone()
	for _, k := range systemFields {
		delete(d, k)
	}
	return e.update(ctx, prev, d)
}

// Upsert writes a record under a fixed id, as when importing it from its
// origin: host and created_at are taken from data. A missing record is
// created, an existing one is merged into and revived when tombstoned.
// When data carries is_deleted=true the record ends up tombstoned through
// Delete, so delete hooks always run.
func (e *Engine) Upsert(ctx context.Context, collection, id string, data domain.Data) (*domain.Record, error) {
	prev, err := e.Get(ctx, collection, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	tombstone := data.Bool(domain.FieldIsDeleted)
	d := data.Clone()
	d[domain.FieldID] = id
	delete(d, domain.FieldIsDeleted)

	if prev == nil {
		s, err := e.schemas.Lookup(collection)
		if err != nil {
			return nil, err
		}
		rec, err := e.create(ctx, s, d)
		if err != nil || !tombstone {
			return rec, err
		}
		return e.Delete(ctx, collection, id)
	}
	if tombstone {
		if prev.IsDeleted() {
			return prev, nil
		}
		return e.Delete(ctx, collection, id)
	}

	if prev.IsDeleted() {
		d[domain.FieldIsDeleted] = false
	}
	return e.update(ctx, prev, d)
}

func (e *Engine) update(ctx context.Context, prev *domain.Record, patch domain.Data) (*domain.Record, error) {
	d := prev.Data.Clone()
	for k, v := range patch {
		if k == domain.FieldID {
			continue
		}
		d[k] = v
	}
	d[domain.FieldModifiedAt] = e.Now()

	rec := &domain.Record{Collection: prev.Collection, Data: d, Schema: prev.Schema}
	params := HookParams{Event: BeforeUpdate, Record: rec, Previous: prev}
	if err := e.hooks.Run(ctx, params); err != nil {
		return nil, err
	}
	if err := e.store.Set(ctx, rec.Collection, rec.ID(), rec.Data); err != nil {
		return nil, fmt.Errorf("update %s %s: %w", rec.Collection, rec.ID(), err)
	}
	params.Event = AfterUpdate
	if err := e.hooks.Run(ctx, params); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete tombstones a record. Deleting a missing or already tombstoned
// record is a no-op and returns (nil, nil). Hooks receive the record as it
// was before the tombstone.
func (e *Engine) Delete(ctx context.Context, collection, id string) (*domain.Record, error) {
	prev, err := e.Get(ctx, collection, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if prev.IsDeleted() {
		return nil, nil
	}

	d := prev.Data.Clone()
	d[domain.FieldIsDeleted] = true
	d[domain.FieldModifiedAt] = e.Now()

	if err := e.hooks.Run(ctx, HookParams{Event: BeforeDelete, Record: prev}); err != nil {
		return nil, err
	}
	if err := e.store.Set(ctx, collection, id, d); err != nil {
		return nil, fmt.Errorf("delete %s %s: %w", collection, id, err)
	}
	if err := e.hooks.Run(ctx, HookParams{Event: AfterDelete, Record: prev}); err != nil {
		return nil, err
	}
	return &domain.Record{Collection: collection, Data: d, Schema: prev.Schema}, nil
}

// Purge physically removes a record without firing hooks. It is meant for
// bookkeeping rows that are not tombstoned.
func (e *Engine) Purge(ctx context.Context, collection, id string) error {
	if _, err := e.schemas.Lookup(collection); err != nil {
		return err
	}
	if err := e.store.Delete(ctx, collection, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("purge %s %s: %w", collection, id, err)
	}
	return nil
}

func validateRequired(s *domain.Schema, d domain.Data) error {
	var errs []domain.FieldError
	for _, f := range s.Fields {
		if !f.Def.Required || f.Def.IsVia() {
			continue
		}
		if v, ok := d[f.Name]; !ok || v == nil || v == "" {
			errs = append(errs, domain.FieldError{Field: f.Name, Message: "required"})
		}
	}
	if len(errs) > 0 {
		return domain.NewValidationErrors(errs)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Get returns a record by id, including tombstoned records.
func (e *Engine) Get(ctx context.Context, collection, id string) (*domain.Record, error) {
	s, err := e.schemas.Lookup(collection)
	if err != nil {
		return nil, err
	}
	d, err := e.store.Get(ctx, collection, id)
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", collection, id, err)
	}
	return &domain.Record{Collection: collection, Data: d, Schema: s}, nil
}

// List returns every record of a collection in insertion order.
func (e *Engine) List(ctx context.Context, collection string) ([]*domain.Record, error) {
	s, err := e.schemas.Lookup(collection)
	if err != nil {
		return nil, err
	}
	rows, err := e.store.List(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return wrap(collection, s, rows), nil
}

// Find returns one page of matching records, expanded when opts.Expand is
// set. Page defaults to 1 and PerPage to the engine default.
func (e *Engine) Find(ctx context.Context, collection string, opts domain.FindOptions) (*domain.RecordPage, error) {
	recs, opts, err := e.find(ctx, collection, opts)
	if err != nil {
		return nil, err
	}

	page := &domain.RecordPage{Page: opts.Page, PerPage: opts.PerPage, Records: make([]*domain.Expanded, len(recs))}
	for i, r := range recs {
		page.Records[i] = domain.NewExpanded(r)
	}
	if len(opts.Expand) > 0 {
		if err := e.ExpandAll(ctx, page.Records, opts.Expand, e.depth); err != nil {
			return nil, err
		}
	}
	return page, nil
}

// FindOne returns the first match or domain.ErrNotFound.
func (e *Engine) FindOne(ctx context.Context, collection string, opts domain.FindOptions) (*domain.Record, error) {
	opts.Page, opts.PerPage, opts.Expand = 1, 1, nil
	recs, _, err := e.find(ctx, collection, opts)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("find one %s: %w", collection, domain.ErrNotFound)
	}
	return recs[0], nil
}

// FindAll walks every page of a query and returns all matches.
func (e *Engine) FindAll(ctx context.Context, collection, filter, sort string) ([]*domain.Record, error) {
	var all []*domain.Record
	for page := 1; ; page++ {
		recs, opts, err := e.find(ctx, collection, domain.FindOptions{Filter: filter, Sort: sort, Page: page})
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
		if len(recs) < opts.PerPage {
			return all, nil
		}
	}
}

func (e *Engine) find(ctx context.Context, collection string, opts domain.FindOptions) ([]*domain.Record, domain.FindOptions, error) {
	s, err := e.schemas.Lookup(collection)
	if err != nil {
		return nil, opts, err
	}
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PerPage <= 0 {
		opts.PerPage = e.perPage
	}
	rows, err := e.store.Find(ctx, collection, opts)
	if err != nil {
		return nil, opts, fmt.Errorf("find %s: %w", collection, err)
	}
	return wrap(collection, s, rows), opts, nil
}

func wrap(collection string, s *domain.Schema, rows []domain.Data) []*domain.Record {
	out := make([]*domain.Record, len(rows))
	for i, d := range rows {
		out[i] = &domain.Record{Collection: collection, Data: d, Schema: s}
	}
	return out
}
