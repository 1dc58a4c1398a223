// Package postgres stores records as jsonb documents in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"github.com/heartmarshall/fedrecords/internal/adapter/sqlfilter"
	"github.com/heartmarshall/fedrecords/internal/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store is a records.Store over the records and collections tables. Rows
// keep their first insertion position through the seq column.
type Store struct {
	db  DB
	tx  *TxManager
	log *slog.Logger
}

func NewStore(db DB, logger *slog.Logger) *Store {
	return &Store{
		db:  db,
		tx:  NewTxManager(db),
		log: logger.With("adapter", "postgres"),
	}
}

type row struct {
	Data []byte `db:"data"`
}

func (s *Store) Get(ctx context.Context, collection, id string) (domain.Data, error) {
	query, args, err := psql.Select("data").From("records").
		Where(sq.Eq{"collection": collection, "id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres.Get build: %w", err)
	}

	var raw []byte
	if err := pgxscan.Get(ctx, QuerierFromCtx(ctx, s.db), &raw, query, args...); err != nil {
		return nil, mapError(err, collection, id)
	}
	return decode(raw)
}

// Set upserts a row. An existing row keeps its seq, and with it its place
// in insertion order.
func (s *Store) Set(ctx context.Context, collection, id string, data domain.Data) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("postgres.Set encode %s %s: %w", collection, id, err)
	}

	query, args, err := psql.Insert("records").
		Columns("collection", "id", "data").
		Values(collection, id, sq.Expr("?::text::jsonb", string(raw))).
		Suffix("ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data").
		ToSql()
	if err != nil {
		return fmt.Errorf("postgres.Set build: %w", err)
	}

	if _, err := QuerierFromCtx(ctx, s.db).Exec(ctx, query, args...); err != nil {
		return mapError(err, collection, id)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	query, args, err := psql.Delete("records").
		Where(sq.Eq{"collection": collection, "id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("postgres.Delete build: %w", err)
	}
	if _, err := QuerierFromCtx(ctx, s.db).Exec(ctx, query, args...); err != nil {
		return mapError(err, collection, id)
	}
	return nil
}

func (s *Store) List(ctx context.Context, collection string) ([]domain.Data, error) {
	return s.Find(ctx, collection, domain.FindOptions{})
}

func (s *Store) Find(ctx context.Context, collection string, opts domain.FindOptions) ([]domain.Data, error) {
	b := psql.Select("data").From("records").Where(sq.Eq{"collection": collection})
	b, err := sqlfilter.Apply(b, jsonb{}, "seq", opts)
	if err != nil {
		return nil, err
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres.Find build: %w", err)
	}

	var rows []row
	if err := pgxscan.Select(ctx, QuerierFromCtx(ctx, s.db), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("postgres.Find %s: %w", collection, err)
	}

	out := make([]domain.Data, 0, len(rows))
	for _, r := range rows {
		d, err := decode(r.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// CreateCollection registers the collection with its base fields. Calling
// it again leaves the stored fields alone.
func (s *Store) CreateCollection(ctx context.Context, collection string, fields domain.Fields) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("postgres.CreateCollection encode: %w", err)
	}
	query, args, err := psql.Insert("collections").
		Columns("name", "fields").
		Values(collection, sq.Expr("?::text::json", string(raw))).
		Suffix("ON CONFLICT (name) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("postgres.CreateCollection build: %w", err)
	}
	if _, err := QuerierFromCtx(ctx, s.db).Exec(ctx, query, args...); err != nil {
		return mapError(err, "collections", collection)
	}
	return nil
}

// AddFields appends the fields the collection does not declare yet.
func (s *Store) AddFields(ctx context.Context, collection string, fields domain.Fields) error {
	return s.updateFields(ctx, collection, func(cur domain.Fields) domain.Fields {
		return cur.Merge(fields)
	})
}

// RemoveFields drops the named fields from the catalogue and from every row.
func (s *Store) RemoveFields(ctx context.Context, collection string, names []string) error {
	return s.updateFields(ctx, collection, func(cur domain.Fields) domain.Fields {
		return cur.Without(names)
	}, func(ctx context.Context) error {
		query, args, err := psql.Update("records").
			Set("data", sq.Expr("data - ?::text[]", names)).
			Where(sq.Eq{"collection": collection}).
			ToSql()
		if err != nil {
			return fmt.Errorf("postgres.RemoveFields build: %w", err)
		}
		if _, err := QuerierFromCtx(ctx, s.db).Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("postgres.RemoveFields %s: %w", collection, err)
		}
		return nil
	})
}

func (s *Store) updateFields(ctx context.Context, collection string, change func(domain.Fields) domain.Fields, then ...func(context.Context) error) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		q := QuerierFromCtx(ctx, s.db)

		query, args, err := psql.Select("fields").From("collections").
			Where(sq.Eq{"name": collection}).
			Suffix("FOR UPDATE").
			ToSql()
		if err != nil {
			return fmt.Errorf("postgres.updateFields build: %w", err)
		}
		var raw []byte
		if err := pgxscan.Get(ctx, q, &raw, query, args...); err != nil {
			return mapError(err, "collections", collection)
		}
		var cur domain.Fields
		if err := json.Unmarshal(raw, &cur); err != nil {
			return fmt.Errorf("postgres.updateFields decode %s: %w", collection, err)
		}

		next, err := json.Marshal(change(cur))
		if err != nil {
			return fmt.Errorf("postgres.updateFields encode: %w", err)
		}
		query, args, err = psql.Update("collections").
			Set("fields", sq.Expr("?::text::json", string(next))).
			Where(sq.Eq{"name": collection}).
			ToSql()
		if err != nil {
			return fmt.Errorf("postgres.updateFields build: %w", err)
		}
		if _, err := q.Exec(ctx, query, args...); err != nil {
			return mapError(err, "collections", collection)
		}

		for _, fn := range then {
			if err := fn(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func decode(raw []byte) (domain.Data, error) {
	var d domain.Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return d, nil
}
