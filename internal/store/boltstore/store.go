// Package boltstore provides a BoltDB-backed persistence layer for the
// catalog, the circulation ledger and the journal.
//
// Every write runs inside one bolt read-write transaction. Bolt admits a
// single writer at a time, so a catalog check followed by an update inside
// Update can never interleave with another desk's request. Readers work on a
// consistent snapshot and never block the writer.
package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"libraledger/internal/catalog"
	"libraledger/internal/circulation"
	"libraledger/internal/journal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	bucketCopies     = []byte("copies")
	bucketAccessions = []byte("accession_index")
	bucketIssues     = []byte("issues")
	bucketOpenIssues = []byte("open_issues")
	bucketOpenByCopy = []byte("open_by_copy")
	bucketCounters   = []byte("counters")
	bucketJournal    = []byte("journal")

	allBuckets = [][]byte{
		bucketCopies, bucketAccessions, bucketIssues, bucketOpenIssues,
		bucketOpenByCopy, bucketCounters, bucketJournal,
	}
)

// Store wraps a BoltDB database file.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path and ensures every bucket
// exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt database %s", path)
	}

	err = db.Update(func(btx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := btx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "create bucket %s", name)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Catalog returns the store as seen by the catalog service.
func (s *Store) Catalog() catalog.Store {
	return catalogStore{s}
}

// Circulation returns the store as seen by the circulation ledger.
func (s *Store) Circulation() circulation.Store {
	return circulationStore{s}
}

func (s *Store) update(ctx context.Context, fn func(*tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&tx{btx: btx})
	})
}

func (s *Store) view(ctx context.Context, fn func(*tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(&tx{btx: btx})
	})
}

// ScanCopies calls fn for every catalog row inside one read transaction.
func (s *Store) ScanCopies(ctx context.Context, fn func(*catalog.BookCopy) error) error {
	return s.view(ctx, func(t *tx) error {
		return t.btx.Bucket(bucketCopies).ForEach(func(_, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var c catalog.BookCopy
			if err := json.Unmarshal(v, &c); err != nil {
				return errors.Wrap(err, "decode copy")
			}
			return fn(&c)
		})
	})
}

// StreamEvents returns up to batchSize journal events with ids greater than
// fromID.
func (s *Store) StreamEvents(ctx context.Context, fromID int64, batchSize int) ([]journal.Event, error) {
	var events []journal.Event
	err := s.view(ctx, func(t *tx) error {
		c := t.btx.Bucket(bucketJournal).Cursor()
		for k, v := c.Seek(itob(uint64(fromID) + 1)); k != nil && len(events) < batchSize; k, v = c.Next() {
			var event journal.Event
			if err := json.Unmarshal(v, &event); err != nil {
				return errors.Wrap(err, "decode event")
			}
			events = append(events, event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

type catalogStore struct {
	s *Store
}

func (c catalogStore) Update(ctx context.Context, fn func(catalog.Tx) error) error {
	return c.s.update(ctx, func(t *tx) error { return fn(t) })
}

func (c catalogStore) View(ctx context.Context, fn func(catalog.Tx) error) error {
	return c.s.view(ctx, func(t *tx) error { return fn(t) })
}

func (c catalogStore) ScanCopies(ctx context.Context, fn func(*catalog.BookCopy) error) error {
	return c.s.ScanCopies(ctx, fn)
}

type circulationStore struct {
	s *Store
}

func (c circulationStore) Update(ctx context.Context, fn func(circulation.Tx) error) error {
	return c.s.update(ctx, func(t *tx) error { return fn(t) })
}

func (c circulationStore) View(ctx context.Context, fn func(circulation.Tx) error) error {
	return c.s.view(ctx, func(t *tx) error { return fn(t) })
}

// OpenIssues pages through unreturned records in id order, joined with the
// title and author of their catalog row.
func (c circulationStore) OpenIssues(ctx context.Context, after uuid.UUID, limit int) ([]circulation.OpenIssue, error) {
	var page []circulation.OpenIssue
	err := c.s.view(ctx, func(t *tx) error {
		cur := t.btx.Bucket(bucketOpenIssues).Cursor()
		k, _ := cur.Seek(after[:])
		if k != nil && bytes.Equal(k, after[:]) {
			k, _ = cur.Next()
		}
		for ; k != nil && len(page) < limit; k, _ = cur.Next() {
			id, err := uuid.FromBytes(k)
			if err != nil {
				return errors.Wrap(err, "decode open issue key")
			}
			rec, err := t.GetIssue(ctx, id)
			if err != nil {
				return err
			}

			open := circulation.OpenIssue{Record: *rec}
			if bc, err := t.GetCopy(ctx, rec.CopyID); err == nil {
				open.Title = bc.Title
				open.Author = bc.Author
			} else if !errors.Is(err, catalog.ErrNotFound) {
				return err
			}
			page = append(page, open)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
