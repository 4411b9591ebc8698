package chunkstore

import (
	"bytes"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("chunks")

// BoltStore is a disk-backed Store using go.etcd.io/bbolt, whose single
// bucket with an ordered-key Cursor is a near-exact match for this
// package's put/cursor(prefix)/delete_range contract — giving the
// receiver an out-of-memory-safe staging area for files too large to hold
// in RAM, which is the whole point of treating storage as a keyed blob
// store instead of a plain byte buffer.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if necessary) a bbolt database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("chunkstore: opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Close closes the underlying database file.
func (b *BoltStore) Close() error { return b.db.Close() }

func (b *BoltStore) Put(key string, data []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), data)
	})
}

func (b *BoltStore) Get(key string) ([]byte, bool, error) {
	var out []byte
	var ok bool
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v == nil {
			return nil
		}
		ok = true
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	return out, ok, err
}

func (b *BoltStore) OpenCursor(prefix string) ([]Entry, error) {
	var out []Entry
	prefixBytes := []byte(prefix)
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.Seek(prefixBytes); k != nil && bytes.HasPrefix(k, prefixBytes); k, v = c.Next() {
			entry := Entry{Key: string(k), Bytes: make([]byte, len(v))}
			copy(entry.Bytes, v)
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}

func (b *BoltStore) DeleteRange(prefix string) error {
	prefixBytes := []byte(prefix)
	return b.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		var keys [][]byte
		for k, _ := c.Seek(prefixBytes); k != nil && bytes.HasPrefix(k, prefixBytes); k, _ = c.Next() {
			cp := make([]byte, len(k))
			copy(cp, k)
			keys = append(keys, cp)
		}
		bucket := tx.Bucket(bucketName)
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
