package local

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/i-melnichenko/kvelldb/internal/model"
	"github.com/i-melnichenko/kvelldb/internal/storage"
)

var batchesBucket = []byte("batches")

// BoltStorage stores one wire-encoded batch per key, keyed by base offset.
type BoltStorage struct {
	db *bolt.DB
}

// OpenBoltStorage opens or creates a bbolt database at path.
func OpenBoltStorage(path string, syncWrites bool) (*BoltStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second, NoSync: !syncWrites})
	if err != nil {
		return nil, fmt.Errorf("local: open bolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(batchesBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("local: create bucket: %w", err)
	}
	return &BoltStorage{db: db}, nil
}

// Load returns every stored batch in offset order.
func (s *BoltStorage) Load() ([]model.RecordBatch, error) {
	var out []model.RecordBatch
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(batchesBucket).ForEach(func(k, v []byte) error {
			batches, err := storage.ReadBatches(context.Background(), v)
			if err != nil {
				return fmt.Errorf("batch at key %x: %w", k, err)
			}
			if len(batches) != 1 {
				return fmt.Errorf("batch at key %x: %d batches stored", k, len(batches))
			}
			out = append(out, batches[0])
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("local: load bolt: %w", err)
	}
	return out, nil
}

// Append stores batch under its base offset.
func (s *BoltStorage) Append(batch model.RecordBatch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(batchesBucket).Put(offsetKey(batch.BaseOffset()), storage.AppendBatch(nil, batch))
	})
}

// Close closes the database.
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// offsetKey encodes o big-endian so keys sort in offset order.
func offsetKey(o model.Offset) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), uint64(o))
}
