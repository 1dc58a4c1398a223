// Package bolt stores records in an embedded bbolt file. Each collection is
// a bucket holding its rows keyed by insertion sequence and an id index.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/heartmarshall/fedrecords/internal/domain"
	"github.com/heartmarshall/fedrecords/internal/filter"
)

var (
	bucketCollections = []byte("_collections")
	bucketRecords     = []byte("records")
	bucketRows        = []byte("rows")
	bucketIDs         = []byte("ids")
)

type Store struct {
	db  *bbolt.DB
	log *slog.Logger
}

// Open opens (creating if needed) the bolt file at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketCollections, bucketRecords} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt.Open init buckets: %w", err)
	}

	s := &Store{db: db, log: logger.With("adapter", "bolt")}
	s.log.Info("bolt store opened", slog.String("path", path))
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping fails once the database is closed.
func (s *Store) Ping(context.Context) error {
	return s.db.View(func(*bbolt.Tx) error { return nil })
}

// collection returns the rows and ids buckets of name, creating them when
// create is set. Without create, missing buckets yield nils.
func collection(tx *bbolt.Tx, name string, create bool) (rows, ids *bbolt.Bucket, err error) {
	root := tx.Bucket(bucketRecords)
	if !create {
		b := root.Bucket([]byte(name))
		if b == nil {
			return nil, nil, nil
		}
		return b.Bucket(bucketRows), b.Bucket(bucketIDs), nil
	}

	b, err := root.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, nil, err
	}
	if rows, err = b.CreateBucketIfNotExists(bucketRows); err != nil {
		return nil, nil, err
	}
	if ids, err = b.CreateBucketIfNotExists(bucketIDs); err != nil {
		return nil, nil, err
	}
	return rows, ids, nil
}

func seqKey(n uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, n)
	return k
}

func notFound(collection, id string) error {
	return fmt.Errorf("bolt: %s %s: %w", collection, id, domain.ErrNotFound)
}

func (s *Store) Get(_ context.Context, name, id string) (domain.Data, error) {
	var out domain.Data
	err := s.db.View(func(tx *bbolt.Tx) error {
		rows, ids, err := collection(tx, name, false)
		if err != nil {
			return err
		}
		if rows == nil {
			return notFound(name, id)
		}
		key := ids.Get([]byte(id))
		if key == nil {
			return notFound(name, id)
		}
		out, err = decode(rows.Get(key))
		return err
	})
	return out, err
}

// Set inserts or replaces a row. A replaced row keeps its sequence key.
func (s *Store) Set(_ context.Context, name, id string, data domain.Data) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("bolt.Set encode %s %s: %w", name, id, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		rows, ids, err := collection(tx, name, true)
		if err != nil {
			return err
		}
		key := append([]byte(nil), ids.Get([]byte(id))...)
		if len(key) == 0 {
			n, err := rows.NextSequence()
			if err != nil {
				return err
			}
			key = seqKey(n)
			if err := ids.Put([]byte(id), key); err != nil {
				return err
			}
		}
		return rows.Put(key, raw)
	})
}

func (s *Store) Delete(_ context.Context, name, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		rows, ids, err := collection(tx, name, false)
		if err != nil || rows == nil {
			return err
		}
		key := ids.Get([]byte(id))
		if key == nil {
			return nil
		}
		// key points into the page; copy before mutating the bucket
		key = append([]byte(nil), key...)
		if err := rows.Delete(key); err != nil {
			return err
		}
		return ids.Delete([]byte(id))
	})
}

func (s *Store) List(_ context.Context, name string) ([]domain.Data, error) {
	out := []domain.Data{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		rows, _, err := collection(tx, name, false)
		if err != nil || rows == nil {
			return err
		}
		return rows.ForEach(func(_, v []byte) error {
			d, err := decode(v)
			if err != nil {
				return err
			}
			out = append(out, d)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Find(ctx context.Context, name string, opts domain.FindOptions) ([]domain.Data, error) {
	rows, err := s.List(ctx, name)
	if err != nil {
		return nil, err
	}
	return filter.Select(rows, opts)
}

func (s *Store) CreateCollection(_ context.Context, name string, fields domain.Fields) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("bolt.CreateCollection encode: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, _, err := collection(tx, name, true); err != nil {
			return err
		}
		meta := tx.Bucket(bucketCollections)
		if meta.Get([]byte(name)) != nil {
			return nil
		}
		return meta.Put([]byte(name), raw)
	})
}

func (s *Store) AddFields(_ context.Context, name string, fields domain.Fields) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return updateFields(tx, name, func(cur domain.Fields) domain.Fields {
			return cur.Merge(fields)
		})
	})
}

// RemoveFields drops the named fields from the catalogue and every row.
func (s *Store) RemoveFields(_ context.Context, name string, names []string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		err := updateFields(tx, name, func(cur domain.Fields) domain.Fields {
			return cur.Without(names)
		})
		if err != nil {
			return err
		}

		rows, _, err := collection(tx, name, false)
		if err != nil || rows == nil {
			return err
		}
		updated := make(map[string][]byte)
		err = rows.ForEach(func(k, v []byte) error {
			d, err := decode(v)
			if err != nil {
				return err
			}
			for _, f := range names {
				delete(d, f)
			}
			raw, err := json.Marshal(d)
			if err != nil {
				return err
			}
			updated[string(k)] = raw
			return nil
		})
		if err != nil {
			return err
		}
		for k, raw := range updated {
			if err := rows.Put([]byte(k), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

func updateFields(tx *bbolt.Tx, name string, change func(domain.Fields) domain.Fields) error {
	meta := tx.Bucket(bucketCollections)
	raw := meta.Get([]byte(name))
	if raw == nil {
		return notFound("collections", name)
	}
	var cur domain.Fields
	if err := json.Unmarshal(raw, &cur); err != nil {
		return fmt.Errorf("bolt: decode fields of %s: %w", name, err)
	}
	next, err := json.Marshal(change(cur))
	if err != nil {
		return err
	}
	return meta.Put([]byte(name), next)
}

func decode(raw []byte) (domain.Data, error) {
	var d domain.Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("bolt: decode record: %w", err)
	}
	return d, nil
}
