package boltstore

import (
	"bytes"
	"context"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"libraledger/internal/catalog"
	"libraledger/internal/circulation"
	"libraledger/internal/journal"
)

const keySep = 0

// tx implements catalog.Tx and circulation.Tx over one bolt transaction.
type tx struct {
	btx *bolt.Tx
}

func accessionPrefix(accession string) []byte {
	return append([]byte(accession), keySep)
}

func accessionKey(c *catalog.BookCopy) []byte {
	key := accessionPrefix(c.AccessionNumber)
	key = append(key, c.SeriesCode...)
	key = append(key, keySep)
	return append(key, c.ID[:]...)
}

func (t *tx) FindCopies(ctx context.Context, accessionNumber string) ([]*catalog.BookCopy, error) {
	prefix := accessionPrefix(accessionNumber)
	var out []*catalog.BookCopy

	c := t.btx.Bucket(bucketAccessions).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		id, err := uuid.FromBytes(v)
		if err != nil {
			return nil, errors.Wrap(err, "decode accession index entry")
		}
		bc, err := t.GetCopy(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, bc)
	}
	return out, nil
}

func (t *tx) GetCopy(_ context.Context, id uuid.UUID) (*catalog.BookCopy, error) {
	v := t.btx.Bucket(bucketCopies).Get(id[:])
	if v == nil {
		return nil, errors.Wrapf(catalog.ErrNotFound, "copy %s", id)
	}
	var c catalog.BookCopy
	if err := json.Unmarshal(v, &c); err != nil {
		return nil, errors.Wrapf(err, "decode copy %s", id)
	}
	return &c, nil
}

func (t *tx) putCopy(c *catalog.BookCopy) error {
	data, err := json.Marshal(c)
	if err != nil {
		return errors.Wrapf(err, "encode copy %s", c.ID)
	}
	return t.btx.Bucket(bucketCopies).Put(c.ID[:], data)
}

func (t *tx) InsertCopy(_ context.Context, c *catalog.BookCopy) error {
	if t.btx.Bucket(bucketCopies).Get(c.ID[:]) != nil {
		return errors.Errorf("copy %s already stored", c.ID)
	}
	if err := t.putCopy(c); err != nil {
		return err
	}
	return t.btx.Bucket(bucketAccessions).Put(accessionKey(c), c.ID[:])
}

func (t *tx) AdjustCounts(ctx context.Context, id uuid.UUID, delta int) (*catalog.BookCopy, error) {
	c, err := t.GetCopy(ctx, id)
	if err != nil {
		return nil, err
	}

	available, issued := c.Available+delta, c.Issued-delta
	if available < 0 || issued < 0 || available+issued != c.TotalQuantity {
		return nil, errors.Wrapf(catalog.ErrInvariantViolation,
			"copy %s: delta %d on available=%d issued=%d total=%d", id, delta, c.Available, c.Issued, c.TotalQuantity)
	}

	c.Available, c.Issued = available, issued
	c.UpdatedAt = time.Now().UTC()
	if err := t.putCopy(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (t *tx) SetCopyStatus(ctx context.Context, id uuid.UUID, status catalog.Status) error {
	c, err := t.GetCopy(ctx, id)
	if err != nil {
		return err
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	return t.putCopy(c)
}

func (t *tx) LockSeries(context.Context, string) error {
	return nil
}

func (t *tx) NextAccession(_ context.Context, seriesCode string) (uint64, error) {
	b, err := t.btx.Bucket(bucketCounters).CreateBucketIfNotExists([]byte("series:" + seriesCode))
	if err != nil {
		return 0, errors.Wrapf(err, "counter bucket for series %q", seriesCode)
	}
	return b.NextSequence()
}

func (t *tx) AppendEvent(_ context.Context, event journal.Event) error {
	b := t.btx.Bucket(bucketJournal)
	seq, err := b.NextSequence()
	if err != nil {
		return errors.Wrap(err, "next journal sequence")
	}
	event.ID = int64(seq)

	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	return b.Put(itob(seq), data)
}

func (t *tx) putIssue(rec *circulation.IssueRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrapf(err, "encode issue %s", rec.ID)
	}
	return t.btx.Bucket(bucketIssues).Put(rec.ID[:], data)
}

func openByCopyKey(copyID, issueID uuid.UUID) []byte {
	return append(append([]byte{}, copyID[:]...), issueID[:]...)
}

func (t *tx) InsertIssue(_ context.Context, rec *circulation.IssueRecord) error {
	if t.btx.Bucket(bucketIssues).Get(rec.ID[:]) != nil {
		return errors.Errorf("issue %s already stored", rec.ID)
	}
	if err := t.putIssue(rec); err != nil {
		return err
	}
	if !rec.Open() {
		return nil
	}
	if err := t.btx.Bucket(bucketOpenIssues).Put(rec.ID[:], rec.CopyID[:]); err != nil {
		return err
	}
	return t.btx.Bucket(bucketOpenByCopy).Put(openByCopyKey(rec.CopyID, rec.ID), []byte{})
}

func (t *tx) GetIssue(_ context.Context, id uuid.UUID) (*circulation.IssueRecord, error) {
	v := t.btx.Bucket(bucketIssues).Get(id[:])
	if v == nil {
		return nil, errors.Wrapf(circulation.ErrNotFound, "issue %s", id)
	}
	var rec circulation.IssueRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, errors.Wrapf(err, "decode issue %s", id)
	}
	return &rec, nil
}

func (t *tx) CloseIssue(ctx context.Context, id uuid.UUID, returnDate time.Time, fine decimal.Decimal) error {
	rec, err := t.GetIssue(ctx, id)
	if err != nil {
		return err
	}
	if !rec.Open() {
		return errors.Wrapf(circulation.ErrAlreadyReturned, "issue %s", id)
	}

	rec.ReturnDate = &returnDate
	rec.FineAccrued = &fine
	if err := t.putIssue(rec); err != nil {
		return err
	}
	if err := t.btx.Bucket(bucketOpenIssues).Delete(id[:]); err != nil {
		return err
	}
	return t.btx.Bucket(bucketOpenByCopy).Delete(openByCopyKey(rec.CopyID, id))
}

func (t *tx) CountOpenIssues(_ context.Context, copyID uuid.UUID) (int, error) {
	var n int
	prefix := copyID[:]
	c := t.btx.Bucket(bucketOpenByCopy).Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		n++
	}
	return n, nil
}
