// Package sqlite stores records as JSON text in an embedded SQLite database
// (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/heartmarshall/fedrecords/internal/adapter/sqlfilter"
	"github.com/heartmarshall/fedrecords/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is a records.Store over a single SQLite file. Rows keep their first
// insertion position through the seq column.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open %s: %w", path, err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, log: logger.With("adapter", "sqlite")}
	s.log.InfoContext(ctx, "sqlite store opened", slog.String("path", path))
	return s, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("goose new provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database file is usable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func mapError(err error, collection, id string) error {
	if errors.Is(err, sql.ErrNoRows) || sqlscan.NotFound(err) {
		return fmt.Errorf("sqlite: %s %s: %w", collection, id, domain.ErrNotFound)
	}
	return fmt.Errorf("sqlite: %s %s: %w", collection, id, err)
}

func (s *Store) Get(ctx context.Context, collection, id string) (domain.Data, error) {
	query, args, err := sq.Select("data").From("records").
		Where(sq.Eq{"collection": collection, "id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite.Get build: %w", err)
	}

	var raw string
	if err := sqlscan.Get(ctx, s.db, &raw, query, args...); err != nil {
		return nil, mapError(err, collection, id)
	}
	return decode(raw)
}

// Set upserts a row; an existing row keeps its seq.
func (s *Store) Set(ctx context.Context, collection, id string, data domain.Data) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("sqlite.Set encode %s %s: %w", collection, id, err)
	}
	query, args, err := sq.Insert("records").
		Columns("collection", "id", "data").
		Values(collection, id, string(raw)).
		Suffix("ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data").
		ToSql()
	if err != nil {
		return fmt.Errorf("sqlite.Set build: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return mapError(err, collection, id)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	query, args, err := sq.Delete("records").
		Where(sq.Eq{"collection": collection, "id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("sqlite.Delete build: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return mapError(err, collection, id)
	}
	return nil
}

func (s *Store) List(ctx context.Context, collection string) ([]domain.Data, error) {
	return s.Find(ctx, collection, domain.FindOptions{})
}

func (s *Store) Find(ctx context.Context, collection string, opts domain.FindOptions) ([]domain.Data, error) {
	b := sq.Select("data").From("records").Where(sq.Eq{"collection": collection})
	b, err := sqlfilter.Apply(b, jsonText{}, "seq", opts)
	if err != nil {
		return nil, err
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite.Find build: %w", err)
	}

	var raws []string
	if err := sqlscan.Select(ctx, s.db, &raws, query, args...); err != nil {
		return nil, fmt.Errorf("sqlite.Find %s: %w", collection, err)
	}
	out := make([]domain.Data, 0, len(raws))
	for _, raw := range raws {
		d, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) CreateCollection(ctx context.Context, collection string, fields domain.Fields) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("sqlite.CreateCollection encode: %w", err)
	}
	query, args, err := sq.Insert("collections").
		Columns("name", "fields").
		Values(collection, string(raw)).
		Suffix("ON CONFLICT (name) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("sqlite.CreateCollection build: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return mapError(err, "collections", collection)
	}
	return nil
}

func (s *Store) AddFields(ctx context.Context, collection string, fields domain.Fields) error {
	return s.updateFields(ctx, collection, func(tx *sql.Tx, cur domain.Fields) (domain.Fields, error) {
		return cur.Merge(fields), nil
	})
}

// RemoveFields drops the named fields from the catalogue and every row.
func (s *Store) RemoveFields(ctx context.Context, collection string, names []string) error {
	return s.updateFields(ctx, collection, func(tx *sql.Tx, cur domain.Fields) (domain.Fields, error) {
		for _, name := range names {
			query, args, err := sq.Update("records").
				Set("data", sq.Expr("json_remove(data, ?)", "$."+name)).
				Where(sq.Eq{"collection": collection}).
				ToSql()
			if err != nil {
				return nil, fmt.Errorf("sqlite.RemoveFields build: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return nil, fmt.Errorf("sqlite.RemoveFields %s.%s: %w", collection, name, err)
			}
		}
		return cur.Without(names), nil
	})
}

func (s *Store) updateFields(ctx context.Context, collection string, change func(*sql.Tx, domain.Fields) (domain.Fields, error)) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query, args, err := sq.Select("fields").From("collections").Where(sq.Eq{"name": collection}).ToSql()
	if err != nil {
		return fmt.Errorf("sqlite.updateFields build: %w", err)
	}
	var raw string
	if err := sqlscan.Get(ctx, tx, &raw, query, args...); err != nil {
		return mapError(err, "collections", collection)
	}
	var cur domain.Fields
	if err := json.Unmarshal([]byte(raw), &cur); err != nil {
		return fmt.Errorf("sqlite.updateFields decode %s: %w", collection, err)
	}

	next, err := change(tx, cur)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("sqlite.updateFields encode: %w", err)
	}
	query, args, err = sq.Update("collections").
		Set("fields", string(encoded)).
		Where(sq.Eq{"name": collection}).
		ToSql()
	if err != nil {
		return fmt.Errorf("sqlite.updateFields build: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return mapError(err, "collections", collection)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit transaction: %w", err)
	}
	return nil
}

func decode(raw string) (domain.Data, error) {
	var d domain.Data
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return d, nil
}
