package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	"github.com/shopspring/decimal"
)

var (
	usersBucket = []byte("ledger_users")
	keysBucket  = []byte("ledger_entry_keys")
)

// BoltStore keeps the ledger in an embedded bolt file: one sub-bucket per user keyed by
// big-endian record id, so a reverse cursor walk is newest first.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the ledger file at path
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(usersBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(keysBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

type entryRef struct {
	UserID string `json:"userId"`
	ID     int64  `json:"id"`
}

func (s *BoltStore) Append(_ context.Context, rec models.TransactionRecord) (*models.TransactionRecord, bool, error) {
	var (
		result  models.TransactionRecord
		created bool
	)

	err := s.db.Update(func(tx *bolt.Tx) error {
		found, err := lookupKey(tx, rec.EntryKey, &result)
		if err != nil || found {
			return err
		}
		result = rec
		created = true
		return putRecord(tx, rec)
	})
	if err != nil {
		return nil, false, err
	}

	return &result, created, nil
}

// Compensate runs inside one write transaction; bolt allows a single writer at a time
func (s *BoltStore) Compensate(ctx context.Context, userID string, originalID int64, entryKey string, apply ApplyFunc) (*models.TransactionRecord, bool, error) {
	var (
		result  models.TransactionRecord
		created bool
	)

	err := s.db.Update(func(tx *bolt.Tx) error {
		var orig models.TransactionRecord
		if err := getRecord(tx, userID, originalID, &orig); err != nil {
			return err
		}
		found, err := lookupKey(tx, entryKey, &result)
		if err != nil || found {
			return err
		}

		compensated := decimal.Zero
		c := tx.Bucket(usersBucket).Bucket([]byte(userID)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r models.TransactionRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.Corrects == originalID {
				compensated = compensated.Add(r.Amount.Neg())
			}
		}

		rec, err := apply(ctx, orig, compensated)
		if err != nil {
			return err
		}
		result = rec
		created = true
		return putRecord(tx, rec)
	})
	if err != nil {
		return nil, false, err
	}

	return &result, created, nil
}

func lookupKey(tx *bolt.Tx, entryKey string, out *models.TransactionRecord) (bool, error) {
	raw := tx.Bucket(keysBucket).Get([]byte(entryKey))
	if raw == nil {
		return false, nil
	}
	var ref entryRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return false, err
	}
	return true, getRecord(tx, ref.UserID, ref.ID, out)
}

func putRecord(tx *bolt.Tx, rec models.TransactionRecord) error {
	user, err := tx.Bucket(usersBucket).CreateBucketIfNotExists([]byte(rec.UserID))
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := user.Put(idKey(rec.ID), data); err != nil {
		return err
	}
	ref, err := json.Marshal(entryRef{UserID: rec.UserID, ID: rec.ID})
	if err != nil {
		return err
	}
	return tx.Bucket(keysBucket).Put([]byte(rec.EntryKey), ref)
}

func (s *BoltStore) Page(_ context.Context, userID string, before int64, limit int) ([]models.TransactionRecord, error) {
	records := make([]models.TransactionRecord, 0, limit)

	err := s.db.View(func(tx *bolt.Tx) error {
		user := tx.Bucket(usersBucket).Bucket([]byte(userID))
		if user == nil {
			return nil
		}

		c := user.Cursor()
		var k, v []byte
		if before == 0 {
			k, v = c.Last()
		} else {
			k, v = c.Seek(idKey(before))
			if k == nil {
				k, v = c.Last()
			} else {
				k, v = c.Prev()
			}
		}

		for ; k != nil && len(records) < limit; k, v = c.Prev() {
			var r models.TransactionRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

func (s *BoltStore) Get(_ context.Context, userID string, id int64) (*models.TransactionRecord, error) {
	var r models.TransactionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return getRecord(tx, userID, id, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func getRecord(tx *bolt.Tx, userID string, id int64, out *models.TransactionRecord) error {
	user := tx.Bucket(usersBucket).Bucket([]byte(userID))
	if user == nil {
		return models.ErrNotFound
	}
	v := user.Get(idKey(id))
	if v == nil {
		return models.ErrNotFound
	}
	return json.Unmarshal(v, out)
}

func idKey(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}
